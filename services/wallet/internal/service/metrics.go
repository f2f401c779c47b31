package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	PersistFailures  prometheus.Counter
	Sessions         prometheus.Gauge
	SubaccountEvents *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_wallet_operations_total",
				Help: "Total API wallet lifecycle operations.",
			},
			[]string{"operation", "status"},
		),
		OperationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_wallet_operation_latency_seconds",
				Help:    "API wallet operation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		PersistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "api_wallet_persist_failures_total",
				Help: "Wallet saves that failed after a committed change.",
			},
		),
		Sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "api_wallet_sessions",
				Help: "Accounts with a loaded wallet session.",
			},
		),
		SubaccountEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_wallet_subaccount_events_total",
				Help: "Subaccount events applied to wallet sessions.",
			},
			[]string{"type", "status"},
		),
	}

	registry.MustRegister(
		m.Operations,
		m.OperationLatency,
		m.PersistFailures,
		m.Sessions,
		m.SubaccountEvents,
	)
	return m
}
