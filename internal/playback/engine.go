// Package playback replays a device's historical trip data: a 0-100
// scrubber mapped onto the sample sequence, per-trip odometer metrics,
// synthesized stops between trips, and a frame-throttled progress copy
// for the speed chart.
package playback

import (
	"fmt"
	"math"
	"sync"
	"time"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/model"
)

// chartFrameInterval throttles chart progress updates: the chart sees
// at most one progress value per frame while the map consumes every
// scrubber move directly.
const chartFrameInterval = 16 * time.Millisecond

// OverallTrip selects the flattened concatenation of all trips.
const OverallTrip = -1

// Stop is a synthesized stop event at the boundary between two trips.
type Stop struct {
	TripIndex          int          `json:"trip_index"`
	Position           model.LatLng `json:"position"`
	Time               time.Time    `json:"time"`
	Duration           string       `json:"duration"` // HH:MM, zero for the final stop
	DistanceFromPrevKm float64      `json:"distance_from_prev_km"`
}

// ChartPoint is one sample of the speed/time chart dataset.
type ChartPoint struct {
	Time  time.Time `json:"time"`
	Speed float64   `json:"speed"`
}

// Engine consumes a finite, pre-fetched, trip-segmented position
// history for one device. It never fetches data itself.
type Engine struct {
	mu    sync.Mutex
	sched clock.Scheduler

	trips     [][]model.Telemetry
	active    []model.Telemetry
	tripIndex int // OverallTrip or index into trips

	progress     float64
	throttled    float64
	framePending bool
}

// NewEngine creates a playback session over the given trips, starting
// in overall mode at progress 0.
func NewEngine(trips [][]model.Telemetry, sched clock.Scheduler) *Engine {
	e := &Engine{sched: sched, trips: trips}
	e.selectLocked(OverallTrip)
	return e
}

// TripCount returns the number of trips in the session.
func (e *Engine) TripCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.trips)
}

// SelectTrip switches the active sequence to one trip, or to the
// flattened concatenation of all trips when index is OverallTrip.
// Switching always resets progress to 0.
func (e *Engine) SelectTrip(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index != OverallTrip && (index < 0 || index >= len(e.trips)) {
		return fmt.Errorf("trip index %d out of range", index)
	}
	e.selectLocked(index)
	return nil
}

func (e *Engine) selectLocked(index int) {
	e.tripIndex = index
	if index == OverallTrip {
		e.active = e.active[:0]
		total := 0
		for _, t := range e.trips {
			total += len(t)
		}
		e.active = make([]model.Telemetry, 0, total)
		for _, t := range e.trips {
			e.active = append(e.active, t...)
		}
	} else {
		e.active = e.trips[index]
	}
	e.progress = 0
	e.throttled = 0
}

// SetProgress moves the scrubber. The map-facing index updates
// immediately; the chart copy is deferred to the next frame.
func (e *Engine) SetProgress(p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	e.progress = p

	if e.framePending {
		return
	}
	e.framePending = true
	e.sched.After(chartFrameInterval, e.frame)
}

func (e *Engine) frame() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.framePending = false
	e.throttled = e.progress
}

// Progress returns the raw scrubber position in [0,100].
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// ThrottledProgress returns the frame-throttled chart copy of the
// scrubber. It may lag Progress by up to one frame.
func (e *Engine) ThrottledProgress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.throttled
}

// CurrentIndex derives the active sample index from the scrubber.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return indexFor(e.progress, len(e.active))
}

// ThrottledIndex derives the chart sample index from the throttled
// progress copy.
func (e *Engine) ThrottledIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return indexFor(e.throttled, len(e.active))
}

func indexFor(progress float64, n int) int {
	if n < 2 {
		return 0
	}
	return int(math.Round(progress / 100 * float64(n-1)))
}

// CurrentSample returns the sample under the scrubber.
func (e *Engine) CurrentSample() (model.Telemetry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) == 0 {
		return model.Telemetry{}, false
	}
	return e.active[indexFor(e.progress, len(e.active))], true
}

// DistanceTraveledKm is the odometer delta between the active
// sequence's first sample and the current one. Degrades to 0 with
// fewer than 2 samples.
func (e *Engine) DistanceTraveledKm() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) < 2 {
		return 0
	}
	cur := e.active[indexFor(e.progress, len(e.active))]
	return nonNegative(cur.Attributes.TotalDistance - e.active[0].Attributes.TotalDistance)
}

// TotalDistanceKm is the odometer delta across the whole active
// sequence.
func (e *Engine) TotalDistanceKm() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) < 2 {
		return 0
	}
	first := e.active[0]
	last := e.active[len(e.active)-1]
	return nonNegative(last.Attributes.TotalDistance - first.Attributes.TotalDistance)
}

// ChartData returns the speed/time dataset for the active sequence.
func (e *Engine) ChartData() []ChartPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ChartPoint, len(e.active))
	for i, s := range e.active {
		out[i] = ChartPoint{Time: s.LastUpdate, Speed: s.Speed}
	}
	return out
}

// Stops synthesizes one stop at the last sample of every trip. The
// stop's duration is the gap until the next trip begins (zero for the
// final trip) and its distance-from-previous is the odometer delta
// between consecutive trips' boundary samples, floored at 0 to absorb
// clock skew and odometer resets.
func (e *Engine) Stops() []Stop {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stops []Stop
	var prevBoundary *model.Telemetry
	for i, trip := range e.trips {
		if len(trip) == 0 {
			continue
		}
		boundary := trip[len(trip)-1]

		duration := "00:00"
		if i+1 < len(e.trips) && len(e.trips[i+1]) > 0 {
			next := e.trips[i+1][0]
			duration = FormatStopDuration(next.LastUpdate.Sub(boundary.LastUpdate))
		}

		distance := 0.0
		if prevBoundary != nil {
			distance = nonNegative(boundary.Attributes.TotalDistance - prevBoundary.Attributes.TotalDistance)
		}

		stops = append(stops, Stop{
			TripIndex:          i,
			Position:           boundary.Position(),
			Time:               boundary.LastUpdate,
			Duration:           duration,
			DistanceFromPrevKm: distance,
		})
		b := boundary
		prevBoundary = &b
	}
	return stops
}

// FormatStopDuration renders a duration as zero-padded HH:MM,
// floor-rounded. Negative inputs render as 00:00.
func FormatStopDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalMinutes := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", totalMinutes/60, totalMinutes%60)
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
