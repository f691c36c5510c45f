// Package metrics exposes Prometheus counters for export, import and test
// execution. Counters register on the default registry at init.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "issai"

// Import outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Runner results.
const (
	ResultPassed      = "passed"
	ResultFailed      = "failed"
	ResultRunnerError = "runner_error"
)

var (
	exportedEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "exported_entities_total",
		Help:      "Entities written to export documents",
	}, []string{
		"kind",
	})

	importedEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "imported_entities_total",
		Help:      "Entities processed by imports, by outcome",
	}, []string{
		"kind",
		"outcome",
	})

	runnerExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runner_executions_total",
		Help:      "Test case executions, by runner and result",
	}, []string{
		"runner",
		"result",
	})

	runnerSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "runner_duration_seconds",
		Help:      "Wall time of test case executions",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{
		"runner",
	})
)

// RecordExported adds n exported entities of kind.
func RecordExported(kind string, n int) {
	if n <= 0 {
		return
	}
	exportedEntities.WithLabelValues(kind).Add(float64(n))
}

// RecordImported adds n imported entities of kind with the given outcome.
func RecordImported(kind, outcome string, n int) {
	if n <= 0 {
		return
	}
	importedEntities.WithLabelValues(kind, outcome).Add(float64(n))
}

// RecordRun counts one runner execution.
func RecordRun(runner string, exitCode int, seconds float64) {
	runnerExecutions.WithLabelValues(runner, RunResult(exitCode)).Inc()
	runnerSeconds.WithLabelValues(runner).Observe(seconds)
}

// RunResult maps an exit code to a result label.
func RunResult(exitCode int) string {
	switch {
	case exitCode == 0:
		return ResultPassed
	case exitCode < 0:
		return ResultRunnerError
	default:
		return ResultFailed
	}
}

// WriteFile writes every metric of the default gatherer to path in the
// text exposition format, for node-exporter style collection.
func WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
