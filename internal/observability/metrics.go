// Package observability exposes the Prometheus collectors shared
// across the tracker.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TelemetryReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_telemetry_received_total",
		Help: "Telemetry samples received from the upstream stream",
	})
	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_telemetry_dropped_total",
		Help: "Telemetry samples dropped for invalid coordinates",
	})
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_stream_reconnects_total",
		Help: "Upstream live-stream reconnect attempts",
	})
	StreamAuthRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_stream_auth_retries_total",
		Help: "Authentication retries while connected but unauthenticated",
	})
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_ws_clients",
		Help: "Connected dashboard WebSocket clients",
	})
	GeocodeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_geocode_queue_depth",
		Help: "Pending reverse-geocode requests",
	})
	GeocodeResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_geocode_resolved_total",
		Help: "Successful reverse-geocode lookups",
	})
	GeocodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_geocode_failures_total",
		Help: "Failed reverse-geocode lookups",
	})
	PositionsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_positions_archived_total",
		Help: "Position records written to the archive",
	})
)
