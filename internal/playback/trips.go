package playback

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"schoolfleet/tracker/internal/model"
)

// MaxQueryWindow caps one playback query's date range.
const MaxQueryWindow = 7 * 24 * time.Hour

// DefaultTripGap is the sample gap that closes one trip and opens the
// next when segmenting raw history.
const DefaultTripGap = 5 * time.Minute

// TripSource fetches and segments archived positions into trips. The
// playback engine treats its output as opaque input.
type TripSource struct {
	db      *gorm.DB
	TripGap time.Duration
}

// NewTripSource creates a trip source over the position archive.
func NewTripSource(db *gorm.DB) *TripSource {
	return &TripSource{db: db, TripGap: DefaultTripGap}
}

// FetchTrips returns the trip-segmented history for a device. The
// range must not exceed MaxQueryWindow.
func (s *TripSource) FetchTrips(ctx context.Context, deviceID int, start, end time.Time) ([][]model.Telemetry, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end before start")
	}
	if end.Sub(start) > MaxQueryWindow {
		return nil, fmt.Errorf("date range exceeds %d days", int(MaxQueryWindow.Hours()/24))
	}

	var positions []model.Position
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND time >= ? AND time <= ?", deviceID, start, end).
		Order("time ASC").
		Find(&positions).Error
	if err != nil {
		return nil, err
	}

	samples := make([]model.Telemetry, 0, len(positions))
	for i := range positions {
		t := positions[i].Telemetry()
		if !t.HasValidPosition() {
			continue
		}
		samples = append(samples, t)
	}

	return SegmentTrips(samples, s.TripGap), nil
}

// SegmentTrips splits a chronological sample sequence into trips. A
// new trip starts when the gap between consecutive samples exceeds
// maxGap, or when ignition comes back on after being off.
func SegmentTrips(samples []model.Telemetry, maxGap time.Duration) [][]model.Telemetry {
	if len(samples) == 0 {
		return nil
	}

	var trips [][]model.Telemetry
	current := []model.Telemetry{samples[0]}

	for i := 1; i < len(samples); i++ {
		prev := samples[i-1]
		cur := samples[i]

		gap := cur.LastUpdate.Sub(prev.LastUpdate)
		restarted := !prev.Attributes.Ignition && cur.Attributes.Ignition

		if gap > maxGap || restarted {
			trips = append(trips, current)
			current = []model.Telemetry{cur}
			continue
		}
		current = append(current, cur)
	}
	trips = append(trips, current)
	return trips
}
