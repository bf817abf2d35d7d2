package model

import (
	"math"
	"time"
)

// VehicleStatus is the discrete state derived from raw telemetry.
// It is recomputed on every update and never persisted.
type VehicleStatus string

const (
	StatusRunning      VehicleStatus = "running"
	StatusIdle         VehicleStatus = "idle"
	StatusStopped      VehicleStatus = "stopped"
	StatusInactive     VehicleStatus = "inactive"
	StatusOverspeeding VehicleStatus = "overspeeding"
	StatusNoData       VehicleStatus = "noData"
)

// DefaultSpeedLimit is substituted when a device has no usable
// configured limit (km/h).
const DefaultSpeedLimit = 60.0

// LatLng is a WGS84 coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TelemetryAttributes carries the device-reported attribute block.
type TelemetryAttributes struct {
	Ignition      bool    `json:"ignition"`
	Motion        bool    `json:"motion"`
	Sat           int     `json:"sat"`
	TodayDistance float64 `json:"todayDistance"`
	TotalDistance float64 `json:"totalDistance"`
}

// Telemetry is a single device position/state report as delivered by
// the upstream live stream.
type Telemetry struct {
	DeviceID   int                 `json:"deviceId"`
	Latitude   float64             `json:"latitude"`
	Longitude  float64             `json:"longitude"`
	Speed      float64             `json:"speed"` // km/h
	SpeedLimit *float64            `json:"speedLimit,omitempty"`
	Course     float64             `json:"course"` // compass bearing 0-360
	Attributes TelemetryAttributes `json:"attributes"`
	LastUpdate time.Time           `json:"lastUpdate"`
	GSMSignal  int                 `json:"gsmSignal"` // 0 = offline
}

// Position returns the coordinate pair of the sample.
func (t *Telemetry) Position() LatLng {
	return LatLng{Lat: t.Latitude, Lng: t.Longitude}
}

// HasValidPosition reports whether the sample carries renderable
// coordinates. Out-of-range values and the (0,0) null island fix are
// filtered before anything downstream sees them.
func (t *Telemetry) HasValidPosition() bool {
	if t.Latitude == 0 && t.Longitude == 0 {
		return false
	}
	if math.IsNaN(t.Latitude) || math.IsNaN(t.Longitude) {
		return false
	}
	return math.Abs(t.Latitude) <= 90 && math.Abs(t.Longitude) <= 180
}

// EffectiveSpeedLimit returns the device's configured limit, falling
// back to DefaultSpeedLimit when the limit is missing or unusable.
func (t *Telemetry) EffectiveSpeedLimit() float64 {
	if t.SpeedLimit == nil || math.IsNaN(*t.SpeedLimit) || *t.SpeedLimit <= 0 {
		return DefaultSpeedLimit
	}
	return *t.SpeedLimit
}
