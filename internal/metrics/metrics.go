// Package metrics provides Prometheus metrics for a peersync node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync cycle metrics
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peersync_cycles_total",
			Help: "Total number of sync cycles by kind and status",
		},
		[]string{"kind", "status"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "peersync_cycle_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	plannedActions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "peersync_planned_actions",
			Help: "Fetch actions planned by the last cycle",
		},
		[]string{"reason"},
	)

	// Fetch (client side) metrics
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peersync_fetches_total",
			Help: "Total number of file fetches from peers",
		},
		[]string{"status"},
	)

	bytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peersync_bytes_fetched_total",
			Help: "Total bytes fetched from peers",
		},
	)

	// Serve (server side) metrics
	servedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peersync_served_requests_total",
			Help: "Total number of peer requests served",
		},
		[]string{"status"},
	)

	bytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peersync_bytes_served_total",
			Help: "Total bytes served to peers",
		},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peersync_active_connections",
			Help: "Peer connections currently being served",
		},
	)

	// Tracker metrics
	trackerDialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peersync_tracker_dials_total",
			Help: "Tracker connection attempts",
		},
		[]string{"status"},
	)

	trackerRoundTrip = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peersync_tracker_round_trip_seconds",
			Help:    "Tracker request/response latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message"},
	)

	remoteFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peersync_remote_manifest_files",
			Help: "Entries in the last manifest received from the tracker",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordCycle records a finished sync cycle.
func RecordCycle(kind, result string, duration time.Duration) {
	cyclesTotal.WithLabelValues(kind, result).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// SetPlannedActions records the size of the last plan.
func SetPlannedActions(newFiles, staleFiles int) {
	plannedActions.WithLabelValues("new").Set(float64(newFiles))
	plannedActions.WithLabelValues("stale").Set(float64(staleFiles))
}

// RecordFetch records a fetch from a peer.
func RecordFetch(bytes int64, success bool) {
	fetchesTotal.WithLabelValues(status(success)).Inc()
	if success {
		bytesFetched.Add(float64(bytes))
	}
}

// RecordServe records a request answered by the peer server.
func RecordServe(bytes int64, success bool) {
	servedRequestsTotal.WithLabelValues(status(success)).Inc()
	if bytes > 0 {
		bytesServed.Add(float64(bytes))
	}
}

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened() { activeConnections.Inc() }

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed() { activeConnections.Dec() }

// RecordTrackerDial records a tracker dial attempt.
func RecordTrackerDial(success bool) {
	trackerDialsTotal.WithLabelValues(status(success)).Inc()
}

// RecordTrackerRoundTrip records one tracker exchange.
func RecordTrackerRoundTrip(message string, duration time.Duration, manifestSize int) {
	trackerRoundTrip.WithLabelValues(message).Observe(duration.Seconds())
	remoteFiles.Set(float64(manifestSize))
}
