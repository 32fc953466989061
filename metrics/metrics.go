/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics holds the Prometheus collectors shared by the catalog
// automation packages. Collectors are registered with the default registry
// and exposed by the admin server on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "catalogbot"

var (
	// GitOperations records the latency of each repository handle operation.
	GitOperations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "git_operation_duration_seconds",
		Help:      "Duration of repository handle operations, including time spent waiting on the handle lock.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"operation", "outcome"})

	// Submissions counts finished submissions by the last state they reached.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Submissions by final state and outcome.",
	}, []string{"state", "outcome"})

	// JobRuns counts scheduled and queued job executions.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Job executions by job name and outcome.",
	}, []string{"job", "outcome"})

	// QueueDepth is the number of submissions pending or running.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "submission_queue_depth",
		Help:      "Submissions waiting for or held by a worker.",
	})

	// TrackedFiles is the number of metadata files found by the last history run.
	TrackedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_files",
		Help:      "Metadata files reported by the most recent history mining run.",
	})
)

// Outcome maps an error onto the outcome label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveGit records a repository operation that began at start.
func ObserveGit(operation string, start time.Time, err error) {
	GitOperations.WithLabelValues(operation, Outcome(err)).Observe(time.Since(start).Seconds())
}
