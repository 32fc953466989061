/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chainguard.dev/appcatalog/metrics"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrDuplicate is returned by Enqueue when an item with the same key is
	// pending or running.
	ErrDuplicate = errors.New("an item with this key is already queued")
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueStopped is returned by Enqueue once Run has returned.
	ErrQueueStopped = errors.New("queue is stopped")
)

// Keyed items are deduplicated by Key.
type Keyed interface {
	Key() string
}

// Handler processes one queued item.
type Handler[T Keyed] func(ctx context.Context, item T) error

// Queue is a bounded in-process work queue drained by a fixed number of
// workers. At most one item per key is pending or running at any time.
type Queue[T Keyed] struct {
	name    string
	workers int
	handler Handler[T]
	items   chan T

	mu      sync.Mutex
	pending map[string]struct{}
	stopped bool
}

// NewQueue returns a Queue named name (used for logs and metrics) holding up
// to capacity items, processed by workers goroutines once Run is called.
func NewQueue[T Keyed](name string, workers, capacity int, handler Handler[T]) (*Queue[T], error) {
	switch {
	case name == "":
		return nil, errors.New("queue name cannot be empty")
	case workers < 1:
		return nil, fmt.Errorf("workers must be positive, got %d", workers)
	case capacity < 1:
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	case handler == nil:
		return nil, errors.New("handler cannot be nil")
	}
	return &Queue[T]{
		name:    name,
		workers: workers,
		handler: handler,
		items:   make(chan T, capacity),
		pending: make(map[string]struct{}, capacity),
	}, nil
}

// Enqueue adds item without blocking.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	key := item.Key()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return fmt.Errorf("%w: %s", ErrQueueStopped, key)
	}
	if _, ok := q.pending[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	select {
	case q.items <- item:
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, key)
	}
	q.pending[key] = struct{}{}
	metrics.QueueDepth.Inc()

	clog.FromContext(ctx).With("queue", q.name, "key", key).Debugf("Enqueued")
	return nil
}

// Pending reports whether an item with key is pending or running.
func (q *Queue[T]) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[key]
	return ok
}

// Run processes items until ctx is cancelled. Items still queued at that point
// are dropped and released, and later Enqueue calls fail with
// ErrQueueStopped. Handler errors are logged and counted; they never stop the
// queue.
func (q *Queue[T]) Run(ctx context.Context) error {
	eg, wctx := errgroup.WithContext(ctx)
	for i := range q.workers {
		eg.Go(func() error {
			q.work(wctx, i)
			return nil
		})
	}
	err := eg.Wait()
	q.stop(ctx)
	return err
}

// stop refuses new items and releases the ones no worker picked up.
func (q *Queue[T]) stop(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true

	var dropped []string
	for {
		select {
		case item := <-q.items:
			key := item.Key()
			delete(q.pending, key)
			metrics.QueueDepth.Dec()
			dropped = append(dropped, key)
		default:
			if len(dropped) > 0 {
				clog.FromContext(ctx).With("queue", q.name).Warnf("Dropped %d queued items: %v", len(dropped), dropped)
			}
			return
		}
	}
}

func (q *Queue[T]) work(ctx context.Context, worker int) {
	for {
		// select picks randomly among ready cases; cancellation wins.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case item := <-q.items:
			q.process(ctx, worker, item)
		}
	}
}

func (q *Queue[T]) process(ctx context.Context, worker int, item T) {
	key := item.Key()
	log := clog.FromContext(ctx).With("queue", q.name, "key", key, "worker", worker)

	defer func() {
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
		metrics.QueueDepth.Dec()
	}()

	err := q.handler(ctx, item)
	metrics.JobRuns.WithLabelValues(q.name, metrics.Outcome(err)).Inc()
	if err != nil {
		log.Warnf("Failed to process %s: %v", key, err)
		return
	}
	log.Infof("Processed %s", key)
}
