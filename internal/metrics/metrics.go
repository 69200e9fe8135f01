// Package metrics exposes Prometheus instruments for merges, workspace
// executions and proposal verdicts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// mergesTotal counts perspective merges by outcome.
	// Labels: outcome (noop, merged, adopted, error)
	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evees",
		Subsystem: "merge",
		Name:      "total",
		Help:      "Perspective merges by outcome",
	}, []string{"outcome"})

	// mergeDuration measures a top-level merge including recursive sub-merges.
	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "evees",
		Subsystem: "merge",
		Name:      "duration_seconds",
		Help:      "Top-level merge duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// workspaceExecutions counts workspace executions.
	// Labels: phase (create, execute), status (success, error)
	workspaceExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evees",
		Subsystem: "workspace",
		Name:      "executions_total",
		Help:      "Workspace executions by phase and status",
	}, []string{"phase", "status"})

	// workspaceWrites counts objects written by workspace executions.
	// Labels: kind (entity, perspective, update)
	workspaceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evees",
		Subsystem: "workspace",
		Name:      "writes_total",
		Help:      "Entities, perspectives and updates written by workspaces",
	}, []string{"kind"})

	// proposalVerdicts counts evaluated proposal statuses.
	// Labels: status (pending, accepted, rejected)
	proposalVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evees",
		Subsystem: "proposals",
		Name:      "verdicts_total",
		Help:      "Proposal status evaluations by verdict",
	}, []string{"status"})
)

// RecordMerge records the outcome of one merge of two perspectives.
func RecordMerge(outcome string) {
	mergesTotal.WithLabelValues(outcome).Inc()
}

// ObserveMergeDuration records the duration of a top-level merge.
func ObserveMergeDuration(seconds float64) {
	mergeDuration.Observe(seconds)
}

// RecordWorkspaceExecution records one ExecuteCreate or Execute call.
func RecordWorkspaceExecution(phase string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	workspaceExecutions.WithLabelValues(phase, status).Inc()
}

// AddWorkspaceWrites records n writes of the given kind.
func AddWorkspaceWrites(kind string, n int) {
	if n > 0 {
		workspaceWrites.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordProposalVerdict records one status evaluation.
func RecordProposalVerdict(status string) {
	proposalVerdicts.WithLabelValues(status).Inc()
}
