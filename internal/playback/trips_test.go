package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolfleet/tracker/internal/model"
)

func segSample(minuteOffset int, ignition bool) model.Telemetry {
	return model.Telemetry{
		DeviceID:   1,
		Latitude:   24.7,
		Longitude:  46.7,
		LastUpdate: playbackStart.Add(time.Duration(minuteOffset) * time.Minute),
		Attributes: model.TelemetryAttributes{Ignition: ignition},
	}
}

func TestSegmentTrips_ContinuousIsOneTrip(t *testing.T) {
	samples := []model.Telemetry{
		segSample(0, true), segSample(1, true), segSample(3, true), segSample(6, true),
	}
	trips := SegmentTrips(samples, DefaultTripGap)
	require.Len(t, trips, 1)
	assert.Len(t, trips[0], 4)
}

func TestSegmentTrips_GapSplits(t *testing.T) {
	samples := []model.Telemetry{
		segSample(0, true), segSample(2, true),
		// 20 minute silence, then a new trip.
		segSample(22, true), segSample(24, true),
	}
	trips := SegmentTrips(samples, DefaultTripGap)
	require.Len(t, trips, 2)
	assert.Len(t, trips[0], 2)
	assert.Len(t, trips[1], 2)
	assert.Equal(t, playbackStart.Add(22*time.Minute), trips[1][0].LastUpdate)
}

func TestSegmentTrips_IgnitionRestartSplits(t *testing.T) {
	samples := []model.Telemetry{
		segSample(0, true), segSample(1, false),
		// Engine restarted within the gap window.
		segSample(2, true), segSample(3, true),
	}
	trips := SegmentTrips(samples, DefaultTripGap)
	require.Len(t, trips, 2)
	assert.Len(t, trips[0], 2, "ignition-off sample closes the first trip")
	assert.Len(t, trips[1], 2)
}

func TestSegmentTrips_Empty(t *testing.T) {
	assert.Nil(t, SegmentTrips(nil, DefaultTripGap))
}

func TestFetchTrips_ValidatesRange(t *testing.T) {
	s := NewTripSource(nil)
	ctx := context.Background()

	start := playbackStart
	_, err := s.FetchTrips(ctx, 1, start, start.Add(-time.Hour))
	assert.Error(t, err, "end before start")

	_, err = s.FetchTrips(ctx, 1, start, start.Add(8*24*time.Hour))
	assert.Error(t, err, "range above the 7 day cap")
}
