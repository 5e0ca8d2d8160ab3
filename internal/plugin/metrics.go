// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for fetch and install metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Fetches is the counter for remote source probes.
// Use RegisterMetrics to register this with a Prometheus registry.
var Fetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "strata_plugin_fetches_total",
		Help: "Total number of remote source probes",
	},
	[]string{"source", "status"},
)

// FetchDuration is the histogram for source probe duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var FetchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "strata_plugin_fetch_duration_seconds",
		Help:    "Remote source probe duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"source"},
)

// Installs is the counter for plugin install attempts.
// Use RegisterMetrics to register this with a Prometheus registry.
var Installs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "strata_plugin_installs_total",
		Help: "Total number of plugin install attempts",
	},
	[]string{"status"},
)

// ChecksumFailures is the counter for rejected artifacts.
// Use RegisterMetrics to register this with a Prometheus registry.
var ChecksumFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "strata_plugin_checksum_failures_total",
		Help: "Total number of downloads rejected for checksum mismatch",
	},
)

// StateSaveFailures is the counter for degraded state persistence.
// Use RegisterMetrics to register this with a Prometheus registry.
var StateSaveFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "strata_plugin_state_save_failures_total",
		Help: "Total number of state-file writes that failed",
	},
)

// RegisterMetrics registers plugin package metrics with the given registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Fetches)
	reg.MustRegister(FetchDuration)
	reg.MustRegister(Installs)
	reg.MustRegister(ChecksumFailures)
	reg.MustRegister(StateSaveFailures)
}

// RecordFetch increments the probe counter for one source outcome.
func RecordFetch(source, status string) {
	Fetches.WithLabelValues(source, status).Inc()
}

// RecordFetchDuration records how long one source probe took.
func RecordFetchDuration(source string, duration time.Duration) {
	FetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordInstall increments the install counter with the given outcome.
func RecordInstall(status string) {
	Installs.WithLabelValues(status).Inc()
}
