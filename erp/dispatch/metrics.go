// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics. Labels carry only method/outcome/kind — never
// resource paths or identifiers, which may embed tenant data.
var (
	promDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erplink_dispatch_requests_total",
			Help: "Total number of dispatches against the remote ERP system",
		},
		[]string{"method", "outcome"},
	)
	promDispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erplink_dispatch_errors_total",
			Help: "Dispatch failures by normalized error kind",
		},
		[]string{"kind"},
	)
	promDispatchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "erplink_dispatch_retries_total",
			Help: "Retry attempts issued for transient failures",
		},
	)
	promDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erplink_dispatch_duration_milliseconds",
			Help:    "Dispatch duration in milliseconds, retries included",
			Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
		},
		[]string{"method"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promDispatchTotal)
	prometheus.MustRegister(promDispatchErrors)
	prometheus.MustRegister(promDispatchRetries)
	prometheus.MustRegister(promDispatchDuration)
}
