package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	SessionsInFlight *prometheus.GaugeVec
	ProductsResolved prometheus.Counter
	ProductsMissing  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SessionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "store_bridge",
				Name:      "sessions_total",
				Help:      "Completed or canceled store sessions",
			},
			[]string{"kind", "outcome"},
		),
		SessionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "store_bridge",
				Name:      "session_duration_seconds",
				Help:      "Time from session start to its completion event",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		SessionsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "store_bridge",
				Name:      "sessions_in_flight",
				Help:      "Sessions waiting for a store event",
			},
			[]string{"kind"},
		),
		ProductsResolved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "store_bridge",
				Name:      "products_resolved_total",
				Help:      "Product ids the store returned data for",
			},
		),
		ProductsMissing: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "store_bridge",
				Name:      "products_unresolved_total",
				Help:      "Product ids the store did not recognize",
			},
		),
	}
}
