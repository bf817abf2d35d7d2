package track

import (
	"sync"
	"time"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/model"
)

const (
	// TrailAnimationWindow is how long one position update is spread
	// over when growing the trail.
	TrailAnimationWindow = 10 * time.Second
	// TrailSampleInterval is how often the in-flight interpolation is
	// sampled into the trail buffer.
	TrailSampleInterval = 500 * time.Millisecond
	// TrailMaxPoints caps the retained trail; oldest points are
	// evicted first.
	TrailMaxPoints = 500
)

// TrailAnimator turns discrete position updates into a smoothly
// growing polyline. Each new target is approached linearly over
// TrailAnimationWindow, with the interpolated position sampled into
// the trail every TrailSampleInterval. A target arriving mid-flight
// cancels the running animation and restarts from the last committed
// point, so the trail never teleports and animations never stack.
type TrailAnimator struct {
	mu    sync.Mutex
	sched clock.Scheduler

	// OnCommit, when set, runs after every animated commit, without
	// the animator lock held. The tracker uses it to mark the device
	// dirty so the per-frame flush picks the motion up.
	OnCommit func()

	deviceID  int
	committed model.LatLng
	hasFix    bool
	trail     []model.LatLng

	// in-flight animation. gen invalidates ticks whose timer fired
	// before a cancel landed; such ticks must not touch the new
	// animation's state.
	gen    int
	cancel clock.CancelFunc
	start  model.LatLng
	target model.LatLng
	begun  time.Time
}

// NewTrailAnimator creates an animator driven by the given scheduler.
func NewTrailAnimator(sched clock.Scheduler) *TrailAnimator {
	return &TrailAnimator{sched: sched}
}

// SetTarget feeds the animator a new committed position update for a
// device. Switching device identity clears the trail entirely.
func (a *TrailAnimator) SetTarget(deviceID int, p model.LatLng) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if deviceID != a.deviceID {
		a.resetLocked()
		a.deviceID = deviceID
	}

	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	if !a.hasFix {
		// First fix for this device: commit directly, nothing to
		// interpolate from.
		a.committed = p
		a.hasFix = true
		a.appendLocked(p)
		return
	}

	a.start = a.committed
	a.target = p
	a.begun = a.sched.Now()
	a.cancel = a.scheduleTickLocked()
}

func (a *TrailAnimator) scheduleTickLocked() clock.CancelFunc {
	gen := a.gen
	return a.sched.After(TrailSampleInterval, func() { a.tick(gen) })
}

func (a *TrailAnimator) tick(gen int) {
	a.mu.Lock()

	if gen != a.gen {
		// Superseded while the timer was firing.
		a.mu.Unlock()
		return
	}

	elapsed := a.sched.Now().Sub(a.begun)
	frac := float64(elapsed) / float64(TrailAnimationWindow)
	if frac >= 1 {
		frac = 1
	}

	point := lerpLatLng(a.start, a.target, frac)
	a.committed = point
	a.appendLocked(point)

	if frac >= 1 {
		a.cancel = nil
	} else {
		a.cancel = a.scheduleTickLocked()
	}
	notify := a.OnCommit
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Reset cancels any in-flight animation and clears all trail state.
func (a *TrailAnimator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *TrailAnimator) resetLocked() {
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.trail = nil
	a.hasFix = false
	a.deviceID = 0
}

func (a *TrailAnimator) appendLocked(p model.LatLng) {
	if len(a.trail) >= TrailMaxPoints {
		copy(a.trail, a.trail[1:])
		a.trail = a.trail[:len(a.trail)-1]
	}
	a.trail = append(a.trail, p)
}

// Trail returns a copy of the current trail points in insertion order.
func (a *TrailAnimator) Trail() []model.LatLng {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.LatLng, len(a.trail))
	copy(out, a.trail)
	return out
}

// Committed returns the last committed (rendered) position and whether
// the animator has seen a fix at all.
func (a *TrailAnimator) Committed() (model.LatLng, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed, a.hasFix
}

func lerpLatLng(from, to model.LatLng, frac float64) model.LatLng {
	return model.LatLng{
		Lat: from.Lat + (to.Lat-from.Lat)*frac,
		Lng: from.Lng + (to.Lng-from.Lng)*frac,
	}
}
