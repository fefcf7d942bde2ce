package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Total backend calls by outcome.",
	}, []string{"outcome"}) // "success", "timeout", "network_error", "rate_limited", "server_error", "client_error"

	callLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prepdeck",
		Subsystem: "gateway",
		Name:      "call_latency_seconds",
		Help:      "End-to-end call latency including retries, in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	dedupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "gateway",
		Name:      "dedup_hits_total",
		Help:      "Calls served from an in-flight identical request.",
	})

	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "gateway",
		Name:      "cache_hits_total",
		Help:      "GETs short-circuited by a 304 to the cached payload.",
	})

	retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prepdeck",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Retry attempts after an initial failure.",
	})
)

func init() {
	prometheus.MustRegister(callsTotal, callLatency, dedupHits, cacheHits, retriesTotal)
}
