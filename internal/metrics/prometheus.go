// Package metrics exposes the evaluation-coordination engine's counters to
// Prometheus, grounded on the teacher's internal/adapters/metrics.prometheus.go
// (promauto-registered collectors at package scope).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FunEvalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nlpdrive_fun_eval_total",
		Help: "Total number of objective/constraint value evaluations",
	})

	JacEvalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nlpdrive_jac_eval_total",
		Help: "Total number of gradient evaluations",
	})

	EvalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nlpdrive_eval_duration_seconds",
		Help:    "Wall-clock duration of a Fun/Grad evaluation",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"kind"})

	PenaltyCoefficient = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nlpdrive_penalty_coefficient",
		Help: "Current continuation parameter (r) for a penalty bucket",
	}, []string{"bucket"})

	IterationCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nlpdrive_iteration_count",
		Help: "Number of design changes evaluated so far",
	})

	RunFeasible = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nlpdrive_run_feasible",
		Help: "1 if every penalty bucket is within tolerance at the last Update(), 0 otherwise",
	})
)
