/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chainguard.dev/appcatalog/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	app, version string
}

func (i item) Key() string { return i.app + "@" + i.version }

func TestNewQueueValidation(t *testing.T) {
	h := func(context.Context, item) error { return nil }
	for _, tc := range []struct {
		name              string
		workers, capacity int
		handler           Handler[item]
	}{
		{"", 1, 1, h},
		{"q", 0, 1, h},
		{"q", 1, 0, h},
		{"q", 1, 1, nil},
	} {
		_, err := NewQueue(tc.name, tc.workers, tc.capacity, tc.handler)
		assert.Error(t, err, "NewQueue(%q, %d, %d)", tc.name, tc.workers, tc.capacity)
	}
}

func TestQueueDeduplicates(t *testing.T) {
	ctx := context.Background()
	q, err := NewQueue[item]("dedupe", 1, 10, func(context.Context, item) error { return nil })
	require.NoError(t, err)

	a := item{"com.example.A", "v1"}
	require.NoError(t, q.Enqueue(ctx, a))
	require.ErrorIs(t, q.Enqueue(ctx, a), ErrDuplicate)
	// Another version of the same app is a different submission.
	require.NoError(t, q.Enqueue(ctx, item{"com.example.A", "v2"}))
	assert.True(t, q.Pending(a.Key()))
}

func TestQueueFull(t *testing.T) {
	ctx := context.Background()
	q, err := NewQueue[item]("full", 1, 1, func(context.Context, item) error { return nil })
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, item{"a.b", "1"}))
	require.ErrorIs(t, q.Enqueue(ctx, item{"a.b", "2"}), ErrQueueFull)
	// A rejected item is not left pending.
	assert.False(t, q.Pending(item{"a.b", "2"}.Key()))
}

func TestQueueRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	started := make(chan string, 10)
	done := make(chan string, 10)
	boom := errors.New("boom")

	q, err := NewQueue[item]("run", 2, 10, func(_ context.Context, it item) error {
		started <- it.Key()
		<-release
		done <- it.Key()
		if it.version == "bad" {
			return boom
		}
		return nil
	})
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.JobRuns.WithLabelValues("run", "error"))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	a, b := item{"com.example.A", "v1"}, item{"com.example.B", "bad"}
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	// Both workers pick up an item; while running they still count as pending.
	got := map[string]bool{<-started: true, <-started: true}
	assert.Equal(t, map[string]bool{a.Key(): true, b.Key(): true}, got)
	require.ErrorIs(t, q.Enqueue(ctx, a), ErrDuplicate)

	close(release)
	<-done
	<-done

	// Once processed, the key may be submitted again.
	require.Eventually(t, func() bool {
		return !q.Pending(a.Key()) && !q.Pending(b.Key())
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, a))
	assert.Equal(t, a.Key(), <-started)
	<-done

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.JobRuns.WithLabelValues("run", "error")))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestQueueReleasesItemsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	q, err := NewQueue[item]("shutdown", 1, 10, func(context.Context, item) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	depth := testutil.ToFloat64(metrics.QueueDepth)
	a, b := item{"com.example.A", "v1"}, item{"com.example.B", "v1"}
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))
	assert.Equal(t, depth+2, testutil.ToFloat64(metrics.QueueDepth))

	cancel()
	require.NoError(t, q.Run(ctx))

	assert.Zero(t, calls)
	assert.False(t, q.Pending(a.Key()))
	assert.False(t, q.Pending(b.Key()))
	assert.Equal(t, depth, testutil.ToFloat64(metrics.QueueDepth))
	require.ErrorIs(t, q.Enqueue(context.Background(), a), ErrQueueStopped)
	assert.Equal(t, depth, testutil.ToFloat64(metrics.QueueDepth))
}

func TestSchedulerEvery(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }

	require.Error(t, s.Every("", time.Second, noop))
	require.Error(t, s.Every("x", 0, noop))
	require.Error(t, s.Every("x", time.Second, nil))
	require.NoError(t, s.Every("x", time.Second, noop))
	require.Error(t, s.Every("x", time.Second, noop), "duplicate name")
	require.ErrorIs(t, s.Trigger("y"), ErrUnknownJob)
}

func TestSchedulerRunsImmediatelyAndOnTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan struct{}, 10)
	s := NewScheduler()
	require.NoError(t, s.Every("bootstrap", time.Hour, func(context.Context) error {
		runs <- struct{}{}
		return nil
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	waitRun(t, runs)
	require.NoError(t, s.Trigger("bootstrap"))
	waitRun(t, runs)

	require.Error(t, s.Every("late", time.Second, func(context.Context) error { return nil }))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSchedulerKeepsRunningAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	count := 0
	s := NewScheduler()
	require.NoError(t, s.Every("flaky", 10*time.Millisecond, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return errors.New("transient")
	}))

	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.JobRuns.WithLabelValues("flaky", "error")), 3.0)
}

func waitRun(t *testing.T, runs <-chan struct{}) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}
