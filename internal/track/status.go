// Package track implements the live vehicle tracking engine: status
// classification, marker bearing interpolation, trail animation and
// the per-device marker state table feeding the dashboard renderer.
package track

import (
	"time"

	"schoolfleet/tracker/internal/model"
)

// InactiveAfter is how long a device may go without reporting before
// it is classified inactive regardless of its last reported state.
const InactiveAfter = 35 * time.Hour

// movingSpeedKmh separates the running and idle speed conditions.
const movingSpeedKmh = 5.0

// Classifier derives a vehicle status from raw telemetry. The zero
// value classifies against the wall clock; tests inject a fixed now.
type Classifier struct {
	// Now supplies the reference time for the inactivity check.
	// Defaults to time.Now when nil.
	Now func() time.Time
}

// Classify maps one telemetry sample to a discrete status. Checks are
// ordered: missing fix, stale report, overspeed, then a majority vote
// over the running/idle/stopped condition triads.
func (c *Classifier) Classify(t *model.Telemetry) model.VehicleStatus {
	if t.Latitude == 0 && t.Longitude == 0 {
		return model.StatusNoData
	}

	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	if now.Sub(t.LastUpdate) > InactiveAfter {
		return model.StatusInactive
	}

	if t.Speed > t.EffectiveSpeedLimit() {
		return model.StatusOverspeeding
	}

	ignition := t.Attributes.Ignition
	motion := t.Attributes.Motion

	stopped := countTrue(t.Speed < movingSpeedKmh, !motion, !ignition)
	running := countTrue(t.Speed > movingSpeedKmh, motion, ignition)
	idle := countTrue(t.Speed < movingSpeedKmh, !motion, ignition)

	// Majority vote, two of three conditions win. Stopped is checked
	// first so a silent vehicle with ignition ambiguity parks rather
	// than idles.
	switch {
	case stopped >= 2:
		return model.StatusStopped
	case running >= 2:
		return model.StatusRunning
	case idle >= 2:
		return model.StatusIdle
	}

	return model.StatusNoData
}

// ClassifyFocused is the simplified two-state policy used by the
// single-vehicle focused view: ignition alone decides between moving
// states and stopped. It is deliberately kept separate from the fleet
// classifier.
func ClassifyFocused(t *model.Telemetry) model.VehicleStatus {
	if !t.Attributes.Ignition {
		return model.StatusStopped
	}
	if t.Speed > movingSpeedKmh {
		return model.StatusRunning
	}
	return model.StatusIdle
}

func countTrue(conds ...bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}
