// Package metrics exposes Prometheus instrumentation for the scan
// pipeline and transport layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScansTotal counts admitted scan submissions by outcome.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokensync_scans_total",
		Help: "Scan submissions by outcome (accepted, duplicate, rejected).",
	}, []string{"status"})

	// BatchesTotal counts processed offline batches.
	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokensync_batches_total",
		Help: "Offline reconciliation batches processed.",
	})

	// BroadcastsDropped counts events dropped because the broadcast
	// channel was full.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokensync_broadcasts_dropped_total",
		Help: "Broadcast events dropped due to backpressure.",
	})

	// ConnectedStations tracks live WebSocket connections by device type.
	ConnectedStations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokensync_connected_stations",
		Help: "Currently connected stations by device type.",
	}, []string{"device_type"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
