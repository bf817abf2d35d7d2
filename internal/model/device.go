package model

import (
	"time"

	"gorm.io/gorm"
)

// Device represents a GPS tracking device fitted to a school bus
type Device struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	DeviceID   int            `json:"device_id" gorm:"uniqueIndex"` // upstream tracker identity
	Name       string         `json:"name" gorm:"size:100"`
	PlateNo    string         `json:"plate_no" gorm:"size:20"`
	SchoolID   *uint          `json:"school_id"`
	RouteName  string         `json:"route_name" gorm:"size:100"`
	SpeedLimit float64        `json:"speed_limit" gorm:"default:60"` // km/h
	Status     int            `json:"status" gorm:"default:0"`       // 0: inactive, 1: active
	LastOnline *time.Time     `json:"last_online"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// DeviceShadow represents the last-known state of a device (stored in Redis)
type DeviceShadow struct {
	DeviceID  int           `json:"device_id"`
	Lat       float64       `json:"lat"`
	Lng       float64       `json:"lng"`
	Speed     float64       `json:"spd"`
	Course    float64       `json:"crs"`
	Status    VehicleStatus `json:"st"`
	Address   string        `json:"addr,omitempty"`
	Timestamp int64         `json:"ts"`
}

// Position represents an archived GPS position record
type Position struct {
	Time       time.Time `json:"time" gorm:"primaryKey"`
	DeviceID   int       `json:"device_id" gorm:"primaryKey"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed"`
	Course     float64   `json:"course"`
	Ignition   bool      `json:"ignition"`
	Motion     bool      `json:"motion"`
	OdometerKm float64   `json:"odometer_km"` // device total-distance reading
}

// Telemetry converts an archived position back into the stream shape
// consumed by the playback engine.
func (p *Position) Telemetry() Telemetry {
	return Telemetry{
		DeviceID:   p.DeviceID,
		Latitude:   p.Lat,
		Longitude:  p.Lng,
		Speed:      p.Speed,
		Course:     p.Course,
		LastUpdate: p.Time,
		Attributes: TelemetryAttributes{
			Ignition:      p.Ignition,
			Motion:        p.Motion,
			TotalDistance: p.OdometerKm,
		},
	}
}
