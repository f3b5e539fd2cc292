// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "cache",
			Name:      "feeds",
			Help:      "Number of distinct feeds currently cached.",
		},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted by the TTL sweep.",
		},
	)

	CacheRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "cache",
			Name:      "rejections_total",
			Help:      "Total number of updates rejected as stale or duplicate.",
		},
	)

	AttestationsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "spy",
			Name:      "attestations_total",
			Help:      "Total number of attestations received from the spy stream.",
		},
	)

	AttestationsMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "spy",
			Name:      "malformed_total",
			Help:      "Total number of attestations discarded as unparseable.",
		},
	)

	SpyConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "spy",
			Name:      "connected",
			Help:      "1 while the spy stream connection is healthy, 0 otherwise.",
		},
	)

	Ready = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "readiness",
			Name:      "ready",
			Help:      "1 once the readiness gate has opened, 0 before.",
		},
	)

	PushAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "pusher",
			Name:      "attempts_total",
			Help:      "Total number of on-chain submission attempts.",
		},
		[]string{"chain"},
	)

	PushSuccesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "pusher",
			Name:      "successes_total",
			Help:      "Total number of successful on-chain submissions.",
		},
		[]string{"chain"},
	)

	PushFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "pusher",
			Name:      "failures_total",
			Help:      "Total number of submissions that exhausted their retries.",
		},
		[]string{"chain"},
	)
)

func init() {
	Registry.MustRegister(
		CacheSize,
		CacheEvictions,
		CacheRejections,
		AttestationsReceived,
		AttestationsMalformed,
		SpyConnected,
		Ready,
		PushAttempts,
		PushSuccesses,
		PushFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
