package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyCalls counts proxy attempts by terminal outcome: completed,
	// denied, rate_limited, credential_error, upstream_error.
	ProxyCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_proxy_calls_total",
		Help: "Proxy call attempts by outcome.",
	}, []string{"outcome"})

	// UpstreamDuration observes outbound call latency for completed and
	// failed upstream requests.
	UpstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_upstream_duration_seconds",
		Help:    "Outbound upstream request duration.",
		Buckets: prometheus.DefBuckets,
	})

	// AuditEntries counts audit log appends by action.
	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_audit_entries_total",
		Help: "Audit entries recorded by action.",
	}, []string{"action"})
)
