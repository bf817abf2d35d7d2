package track

import (
	"sync"
	"time"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/model"
)

// FrameInterval is the batching window for renderer updates. State
// mutations accumulate and are flushed to the sink once per frame
// instead of once per field write.
const FrameInterval = 100 * time.Millisecond

// Marker is the declarative per-vehicle state handed to the renderer.
type Marker struct {
	DeviceID    int                 `json:"device_id"`
	Position    model.LatLng        `json:"position"`
	Bearing     float64             `json:"bearing"` // rotation target, not raw course
	Status      model.VehicleStatus `json:"status"`
	IconVariant string              `json:"icon_variant"`
	Speed       float64             `json:"speed"`
	LastUpdate  time.Time           `json:"last_update"`
	Trail       []model.LatLng      `json:"trail"`
}

// Sink receives batched marker snapshots, one slice per frame. A
// false return means the frame could not be accepted; the tracker
// keeps those devices dirty and redelivers them on the next frame.
type Sink interface {
	PublishMarkers(markers []Marker) bool
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(markers []Marker) bool

// PublishMarkers calls f.
func (f SinkFunc) PublishMarkers(markers []Marker) bool { return f(markers) }

type vehicleState struct {
	last    model.Telemetry
	bearing float64
	status  model.VehicleStatus
	trail   *TrailAnimator
}

// Tracker owns one marker state per active device. It classifies
// every incoming sample, advances the marker bearing along the
// shortest rotation arc, feeds the trail animator, and flushes
// batched snapshots to the render sink once per frame.
type Tracker struct {
	mu    sync.Mutex
	sched clock.Scheduler
	sink  Sink

	vehicles     map[int]*vehicleState
	classifier   Classifier
	dirty        map[int]bool
	flushPending bool

	focusedID  int
	hasFocused bool
}

// NewTracker creates a tracker flushing to the given sink.
func NewTracker(sched clock.Scheduler, sink Sink) *Tracker {
	return &Tracker{
		sched:    sched,
		sink:     sink,
		vehicles: make(map[int]*vehicleState),
		dirty:    make(map[int]bool),
	}
}

// Apply ingests one telemetry sample. Samples with invalid coordinates
// are dropped here so the renderer never sees them.
func (tr *Tracker) Apply(t *model.Telemetry) {
	if !t.HasValidPosition() {
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	course := NormalizeBearing(t.Course)
	v, ok := tr.vehicles[t.DeviceID]
	if !ok {
		v = &vehicleState{
			bearing: course,
			trail:   NewTrailAnimator(tr.sched),
		}
		// Animated commits between telemetry updates must reach the
		// renderer too, not just the update that started them.
		id := t.DeviceID
		v.trail.OnCommit = func() { tr.markDirty(id) }
		tr.vehicles[t.DeviceID] = v
	} else {
		v.bearing = ShortestRotation(v.bearing, course)
	}

	v.last = *t
	if tr.hasFocused && tr.focusedID == t.DeviceID {
		v.status = ClassifyFocused(t)
	} else {
		v.status = tr.classifier.Classify(t)
	}
	v.trail.SetTarget(t.DeviceID, t.Position())

	tr.markDirtyLocked(t.DeviceID)
}

// SetFocused switches one device to the simplified focused-view status
// policy. Its current sample is reclassified immediately.
func (tr *Tracker) SetFocused(deviceID int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.focusedID = deviceID
	tr.hasFocused = true
	if v, ok := tr.vehicles[deviceID]; ok {
		v.status = ClassifyFocused(&v.last)
		tr.markDirtyLocked(deviceID)
	}
}

// ClearFocused restores fleet classification for all devices.
func (tr *Tracker) ClearFocused() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.hasFocused {
		return
	}
	id := tr.focusedID
	tr.hasFocused = false
	if v, ok := tr.vehicles[id]; ok {
		v.status = tr.classifier.Classify(&v.last)
		tr.markDirtyLocked(id)
	}
}

// SetActiveDevices discards marker state for devices outside the given
// set. A nil set keeps everything (subscription mode "all").
func (tr *Tracker) SetActiveDevices(ids []int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if ids == nil {
		return
	}
	keep := make(map[int]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for id, v := range tr.vehicles {
		if !keep[id] {
			v.trail.Reset()
			delete(tr.vehicles, id)
			delete(tr.dirty, id)
		}
	}
}

// Remove discards the marker state for one device.
func (tr *Tracker) Remove(deviceID int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if v, ok := tr.vehicles[deviceID]; ok {
		v.trail.Reset()
		delete(tr.vehicles, deviceID)
		delete(tr.dirty, deviceID)
	}
}

// Marker returns the current marker for one device.
func (tr *Tracker) Marker(deviceID int) (Marker, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	v, ok := tr.vehicles[deviceID]
	if !ok {
		return Marker{}, false
	}
	return tr.markerLocked(deviceID, v), true
}

// Markers returns markers for every active device.
func (tr *Tracker) Markers() []Marker {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]Marker, 0, len(tr.vehicles))
	for id, v := range tr.vehicles {
		out = append(out, tr.markerLocked(id, v))
	}
	return out
}

func (tr *Tracker) markerLocked(id int, v *vehicleState) Marker {
	pos := v.last.Position()
	if committed, ok := v.trail.Committed(); ok {
		pos = committed
	}
	return Marker{
		DeviceID:    id,
		Position:    pos,
		Bearing:     v.bearing,
		Status:      v.status,
		IconVariant: iconVariant(v.status),
		Speed:       v.last.Speed,
		LastUpdate:  v.last.LastUpdate,
		Trail:       v.trail.Trail(),
	}
}

func (tr *Tracker) markDirty(deviceID int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.markDirtyLocked(deviceID)
}

func (tr *Tracker) markDirtyLocked(deviceID int) {
	tr.dirty[deviceID] = true
	if tr.flushPending || tr.sink == nil {
		return
	}
	tr.flushPending = true
	tr.sched.After(FrameInterval, tr.flush)
}

func (tr *Tracker) flush() {
	tr.mu.Lock()
	tr.flushPending = false
	markers := make([]Marker, 0, len(tr.dirty))
	for id := range tr.dirty {
		if v, ok := tr.vehicles[id]; ok {
			markers = append(markers, tr.markerLocked(id, v))
		}
	}
	tr.dirty = make(map[int]bool)
	sink := tr.sink
	tr.mu.Unlock()

	if sink == nil || len(markers) == 0 {
		return
	}
	if sink.PublishMarkers(markers) {
		return
	}

	// Frame rejected (fan-out saturated): keep these devices dirty so
	// the next frame redelivers them.
	tr.mu.Lock()
	for _, m := range markers {
		tr.dirty[m.DeviceID] = true
	}
	if !tr.flushPending {
		tr.flushPending = true
		tr.sched.After(FrameInterval, tr.flush)
	}
	tr.mu.Unlock()
}

// iconVariant maps a status onto the marker icon family used by the
// dashboard map layer.
func iconVariant(s model.VehicleStatus) string {
	switch s {
	case model.StatusRunning:
		return "bus-green"
	case model.StatusIdle:
		return "bus-yellow"
	case model.StatusStopped:
		return "bus-red"
	case model.StatusOverspeeding:
		return "bus-orange"
	case model.StatusInactive:
		return "bus-grey"
	default:
		return "bus-grey"
	}
}
