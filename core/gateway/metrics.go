// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are the prometheus collectors of a gateway
type metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	shortCircuits *prometheus.CounterVec
	hooks         *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schemagate",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of record requests handled.",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "schemagate",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of record requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method"},
		),
		shortCircuits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schemagate",
				Subsystem: "pipeline",
				Name:      "short_circuits_total",
				Help:      "Number of requests answered early, by the stage which stopped them.",
			},
			[]string{"stage"},
		),
		hooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schemagate",
				Subsystem: "hooks",
				Name:      "executions_total",
				Help:      "Number of business logic executions.",
			},
			[]string{"trigger", "outcome"},
		),
	}
	registry.MustRegister(m.requests, m.duration, m.shortCircuits, m.hooks)
	return m
}

func (m *metrics) observeRequest(method string, status int, started time.Time) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
