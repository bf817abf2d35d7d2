package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/model"
)

func telemetry(deviceID int, lat, lng, speed, course float64) *model.Telemetry {
	return &model.Telemetry{
		DeviceID:   deviceID,
		Latitude:   lat,
		Longitude:  lng,
		Speed:      speed,
		Course:     course,
		LastUpdate: time.Now(),
		Attributes: model.TelemetryAttributes{Ignition: speed > 0, Motion: speed > 0},
	}
}

func TestTracker_DropsInvalidCoordinates(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	tr.Apply(telemetry(1, 0, 0, 40, 90))
	tr.Apply(telemetry(2, 91, 10, 40, 90))
	tr.Apply(telemetry(3, 10, 181, 40, 90))

	assert.Empty(t, tr.Markers(), "invalid fixes never create markers")
}

func TestTracker_BearingFollowsShortestArc(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	tr.Apply(telemetry(1, 24.7, 46.7, 40, 350))
	m, ok := tr.Marker(1)
	require.True(t, ok)
	assert.InDelta(t, 350.0, m.Bearing, 1e-9, "first sample takes the raw course")

	tr.Apply(telemetry(1, 24.71, 46.71, 40, 10))
	m, _ = tr.Marker(1)
	assert.InDelta(t, 370.0, m.Bearing, 1e-9, "update rotates through north, not the long way")

	// Out-of-range courses are normalized on ingest.
	tr.Apply(telemetry(2, 24.7, 46.7, 40, -90))
	m, _ = tr.Marker(2)
	assert.InDelta(t, 270.0, m.Bearing, 1e-9)
}

func TestTracker_FrameBatching(t *testing.T) {
	fake := clock.NewFake(time.Now())

	var frames [][]Marker
	sink := SinkFunc(func(markers []Marker) bool {
		frames = append(frames, markers)
		return true
	})
	tr := NewTracker(fake, sink)

	// Several updates inside one frame window coalesce.
	tr.Apply(telemetry(1, 24.7, 46.7, 40, 90))
	tr.Apply(telemetry(2, 24.8, 46.8, 0, 0))
	tr.Apply(telemetry(1, 24.71, 46.71, 42, 91))
	assert.Empty(t, frames, "nothing published before the frame fires")

	fake.Advance(FrameInterval)
	require.Len(t, frames, 1, "one flush per frame window")
	assert.Len(t, frames[0], 2, "both dirty devices in the batch")
}

func TestTracker_QuietAfterFirstFix(t *testing.T) {
	fake := clock.NewFake(time.Now())

	var frames [][]Marker
	sink := SinkFunc(func(markers []Marker) bool {
		frames = append(frames, markers)
		return true
	})
	tr := NewTracker(fake, sink)

	// A first fix commits directly with nothing to animate, so one
	// frame goes out and then the tracker falls silent.
	tr.Apply(telemetry(1, 24.7, 46.7, 40, 90))
	fake.Advance(FrameInterval)
	require.Len(t, frames, 1)

	fake.Advance(100 * FrameInterval)
	assert.Len(t, frames, 1, "no flushes without new state")
}

func TestTracker_AnimationCommitsAreBroadcast(t *testing.T) {
	fake := clock.NewFake(time.Now())

	var frames [][]Marker
	sink := SinkFunc(func(markers []Marker) bool {
		frames = append(frames, markers)
		return true
	})
	tr := NewTracker(fake, sink)

	tr.Apply(telemetry(1, 10, 20, 40, 90))
	tr.Apply(telemetry(1, 11, 21, 42, 91))

	fake.Advance(TrailAnimationWindow + 2*FrameInterval)

	// One frame for the update itself, then one per animated commit:
	// the smoothed motion reaches the renderer between telemetry
	// updates, not just when the next sample arrives.
	wantFrames := 1 + int(TrailAnimationWindow/TrailSampleInterval)
	require.Len(t, frames, wantFrames)

	last := frames[len(frames)-1]
	require.Len(t, last, 1)
	assert.InDelta(t, 11.0, last[0].Position.Lat, 1e-9, "final frame sits on the target")
	assert.InDelta(t, 21.0, last[0].Position.Lng, 1e-9)

	prev := -1.0
	for _, frame := range frames {
		require.Len(t, frame, 1)
		assert.GreaterOrEqual(t, frame[0].Position.Lat, prev, "motion advances monotonically")
		prev = frame[0].Position.Lat
	}
}

func TestTracker_RejectedFrameIsRedelivered(t *testing.T) {
	fake := clock.NewFake(time.Now())

	accept := false
	var frames [][]Marker
	sink := SinkFunc(func(markers []Marker) bool {
		if !accept {
			return false
		}
		frames = append(frames, markers)
		return true
	})
	tr := NewTracker(fake, sink)

	tr.Apply(telemetry(1, 24.7, 46.7, 40, 90))
	fake.Advance(FrameInterval)
	assert.Empty(t, frames, "saturated sink rejects the frame")

	// The device stays dirty and the next frame carries it.
	accept = true
	fake.Advance(FrameInterval)
	require.Len(t, frames, 1)
	require.Len(t, frames[0], 1)
	assert.Equal(t, 1, frames[0][0].DeviceID)
}

func TestTracker_MarkerReflectsStatusAndIcon(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	tr.Apply(telemetry(1, 24.7, 46.7, 40, 90))
	m, ok := tr.Marker(1)
	require.True(t, ok)
	assert.Equal(t, model.StatusRunning, m.Status)
	assert.Equal(t, "bus-green", m.IconVariant)

	tr.Apply(telemetry(1, 24.7, 46.7, 70, 90))
	m, _ = tr.Marker(1)
	assert.Equal(t, model.StatusOverspeeding, m.Status)
	assert.Equal(t, "bus-orange", m.IconVariant)

	stopped := telemetry(1, 24.7, 46.7, 0, 90)
	tr.Apply(stopped)
	m, _ = tr.Marker(1)
	assert.Equal(t, model.StatusStopped, m.Status)
	assert.Equal(t, "bus-red", m.IconVariant)
}

func TestTracker_SetActiveDevicesPrunes(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	tr.Apply(telemetry(1, 24.7, 46.7, 40, 90))
	tr.Apply(telemetry(2, 24.8, 46.8, 40, 90))
	tr.Apply(telemetry(3, 24.9, 46.9, 40, 90))
	require.Len(t, tr.Markers(), 3)

	tr.SetActiveDevices([]int{2})
	markers := tr.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, 2, markers[0].DeviceID)

	// Nil keeps whatever is there (fleet-wide subscription).
	tr.SetActiveDevices(nil)
	assert.Len(t, tr.Markers(), 1)
}

func TestTracker_FocusedPolicyOverridesFleetClassification(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	// Slow with ignition on: the fleet vote says stopped, the focused
	// two-state policy says idle.
	slow := telemetry(1, 24.7, 46.7, 0, 90)
	slow.Attributes.Ignition = true
	slow.Attributes.Motion = false
	tr.Apply(slow)

	m, _ := tr.Marker(1)
	require.Equal(t, model.StatusStopped, m.Status)

	tr.SetFocused(1)
	m, _ = tr.Marker(1)
	assert.Equal(t, model.StatusIdle, m.Status, "focus reclassifies the current sample")

	tr.ClearFocused()
	m, _ = tr.Marker(1)
	assert.Equal(t, model.StatusStopped, m.Status)
}

func TestTracker_RemoveClearsDevice(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	tr.Apply(telemetry(1, 24.7, 46.7, 40, 90))
	tr.Remove(1)

	_, ok := tr.Marker(1)
	assert.False(t, ok)
	assert.Empty(t, tr.Markers())
}

func TestTracker_MarkerUsesCommittedTrailPosition(t *testing.T) {
	fake := clock.NewFake(time.Now())
	tr := NewTracker(fake, nil)

	tr.Apply(telemetry(1, 10, 20, 40, 90))
	tr.Apply(telemetry(1, 11, 21, 40, 90))

	// Mid-animation the marker sits between the two fixes.
	fake.Advance(TrailAnimationWindow / 2)
	m, ok := tr.Marker(1)
	require.True(t, ok)
	assert.InDelta(t, 10.5, m.Position.Lat, 1e-9)
	assert.InDelta(t, 20.5, m.Position.Lng, 1e-9)

	fake.Advance(TrailAnimationWindow / 2)
	m, _ = tr.Marker(1)
	assert.InDelta(t, 11.0, m.Position.Lat, 1e-9)
	assert.NotEmpty(t, m.Trail)
}
