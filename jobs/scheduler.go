/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package jobs runs the catalog's background work in process: periodic jobs
// on a Scheduler and on-demand work on a deduplicating Queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chainguard.dev/appcatalog/metrics"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownJob is returned by Trigger for names never passed to Every.
var ErrUnknownJob = errors.New("unknown job")

// Func is a unit of scheduled work.
type Func func(ctx context.Context) error

type periodic struct {
	name     string
	interval time.Duration
	fn       Func
	// trigger holds at most one pending out-of-schedule run.
	trigger chan struct{}
}

// Scheduler runs registered jobs periodically. Runs of the same job never
// overlap.
type Scheduler struct {
	mu      sync.Mutex
	started bool
	jobs    map[string]*periodic
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*periodic)}
}

// Every registers fn to run immediately when the scheduler starts and then
// every interval. It must be called before Run.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) error {
	if name == "" || fn == nil {
		return errors.New("job name and function are required")
	}
	if interval <= 0 {
		return fmt.Errorf("interval of %s must be positive, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cannot register %s on a running scheduler", name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s is already registered", name)
	}
	s.jobs[name] = &periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	}
	return nil
}

// Trigger requests an extra run of the named job. Requests made while one is
// already pending are coalesced.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	select {
	case j.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Run blocks running every registered job until ctx is cancelled. Job errors
// are logged and counted and never stop the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.started = true
	jobs := make([]*periodic, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		eg.Go(func() error {
			j.loop(ctx)
			return nil
		})
	}
	return eg.Wait()
}

func (j *periodic) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.trigger:
		}
	}
}

func (j *periodic) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log := clog.FromContext(ctx).With("job", j.name)
	start := time.Now()

	err := j.fn(ctx)
	metrics.JobRuns.WithLabelValues(j.name, metrics.Outcome(err)).Inc()
	if err != nil {
		log.Warnf("Job failed after %s, skipping this cycle: %v", time.Since(start), err)
		return
	}
	log.Infof("Job finished in %s", time.Since(start))
}
