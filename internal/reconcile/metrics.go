package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "reconcile",
		Name:      "sessions_total",
		Help:      "Reconciliation sessions by outcome.",
	}, []string{"outcome"}) // "reconciled", "timed_out", "cancelled"

	pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "reconcile",
		Name:      "polls_total",
		Help:      "Balance polls issued across all sessions.",
	})

	pollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "reconcile",
		Name:      "poll_failures_total",
		Help:      "Balance polls that failed and were skipped as transient.",
	})

	attemptsToReconcile = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prepdeck",
		Subsystem: "reconcile",
		Name:      "attempts_to_reconcile",
		Help:      "Poll attempts needed before the balance reconciled.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 30, 40},
	})
)

func init() {
	prometheus.MustRegister(sessionsTotal, pollsTotal, pollFailures, attemptsToReconcile)
}
