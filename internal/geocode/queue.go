package geocode

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolfleet/tracker/internal/model"
	"schoolfleet/tracker/internal/observability"
)

const (
	// coordEpsilon is how far (degrees) a device must move before a
	// cached address is considered stale and re-resolved.
	coordEpsilon = 0.0005
	// resolveTimeout bounds one provider round trip.
	resolveTimeout = 10 * time.Second
	// redisCacheTTL is how long resolved addresses survive in the
	// Redis write-through cache.
	redisCacheTTL = 24 * time.Hour
)

type request struct {
	deviceID int
	pos      model.LatLng
	priority bool
}

type cacheEntry struct {
	address string
	pos     model.LatLng
}

// Queue is the debounced address-resolution queue between position
// updates and UI labels. Per-device pending requests are deduplicated
// (a newer request supersedes an older one), high-priority requests
// jump ahead of background ones, and only currently visible devices
// are enqueued for background resolution. Failures leave the previous
// cached address in place and never surface to callers.
type Queue struct {
	resolver Resolver
	redis    *redis.Client // optional write-through, may be nil

	mu       sync.Mutex
	pending  map[int]*request
	fifo     []int // background order
	urgent   []int // priority order
	cache    map[int]cacheEntry
	loading  map[int]bool
	lastPos  map[int]model.LatLng
	visible  map[int]bool
	focused  int
	hasFocus bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a queue in front of the given resolver. The Redis
// client is optional; when present, resolved addresses are mirrored to
// fleet:geocode:<device_id>.
func NewQueue(resolver Resolver, redisClient *redis.Client) *Queue {
	return &Queue{
		resolver: resolver,
		redis:    redisClient,
		pending:  make(map[int]*request),
		cache:    make(map[int]cacheEntry),
		loading:  make(map[int]bool),
		lastPos:  make(map[int]model.LatLng),
		visible:  make(map[int]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the single resolution worker.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.run(ctx)
	log.Println("[Geocode] Queue started")
}

// Stop cancels the worker. An in-flight resolution is allowed to
// finish and populate the cache.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	log.Println("[Geocode] Queue stopped")
}

// SetVisible replaces the set of devices eligible for background
// resolution (the paginated window the dashboard currently shows).
func (q *Queue) SetVisible(deviceIDs []int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visible = make(map[int]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		q.visible[id] = true
	}
}

// SetFocused marks the device the user has selected. The focused
// device is always eligible regardless of the visibility window.
func (q *Queue) SetFocused(deviceID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.focused = deviceID
	q.hasFocus = true
}

// ClearFocused drops the focused-device exemption.
func (q *Queue) ClearFocused() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hasFocus = false
}

// Enqueue requests address resolution for a device position. A newer
// request for a device replaces its pending one rather than queuing a
// duplicate. Background requests for devices outside the visible
// window are silently dropped.
func (q *Queue) Enqueue(deviceID int, lat, lng float64, highPriority bool) {
	pos := model.LatLng{Lat: lat, Lng: lng}

	q.mu.Lock()
	q.lastPos[deviceID] = pos

	if !highPriority && !q.visible[deviceID] && !(q.hasFocus && q.focused == deviceID) {
		q.mu.Unlock()
		return
	}

	// A fresh-enough cached address means nothing to do.
	if entry, ok := q.cache[deviceID]; ok && withinEpsilon(entry.pos, pos) {
		q.mu.Unlock()
		return
	}

	if existing, ok := q.pending[deviceID]; ok {
		existing.pos = pos
		if highPriority && !existing.priority {
			existing.priority = true
			q.removeFromFifo(deviceID)
			q.urgent = append(q.urgent, deviceID)
		}
		q.mu.Unlock()
		q.signal()
		return
	}

	q.pending[deviceID] = &request{deviceID: deviceID, pos: pos, priority: highPriority}
	if highPriority {
		q.urgent = append(q.urgent, deviceID)
	} else {
		q.fifo = append(q.fifo, deviceID)
	}
	observability.GeocodeQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()
	q.signal()
}

// Address returns the best label for a device: the cached address when
// one exists, otherwise the raw coordinates of its last request. The
// second result is the per-device loading flag for spinner display.
func (q *Queue) Address(deviceID int) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	loading := q.loading[deviceID]
	if entry, ok := q.cache[deviceID]; ok {
		return entry.address, loading
	}
	if pos, ok := q.lastPos[deviceID]; ok {
		return fmt.Sprintf("%.5f, %.5f", pos.Lat, pos.Lng), loading
	}
	return "", loading
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		req, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.resolve(ctx, req)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// next pops the highest-priority pending request.
func (q *Queue) next() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deviceID int
	switch {
	case len(q.urgent) > 0:
		deviceID = q.urgent[0]
		q.urgent = q.urgent[1:]
	case len(q.fifo) > 0:
		deviceID = q.fifo[0]
		q.fifo = q.fifo[1:]
	default:
		return request{}, false
	}

	req, ok := q.pending[deviceID]
	if !ok {
		return request{}, false
	}
	delete(q.pending, deviceID)
	q.loading[deviceID] = true
	observability.GeocodeQueueDepth.Set(float64(len(q.pending)))
	return *req, true
}

func (q *Queue) resolve(ctx context.Context, req request) {
	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addr, err := q.resolver.Resolve(rctx, req.pos.Lat, req.pos.Lng)

	q.mu.Lock()
	delete(q.loading, req.deviceID)
	if err != nil || addr == "" {
		// Keep whatever was cached before; the next natural enqueue
		// retries.
		q.mu.Unlock()
		if err != nil {
			observability.GeocodeFailures.Inc()
			log.Printf("[Geocode] Resolve failed for device %d: %v", req.deviceID, err)
		}
		return
	}
	q.cache[req.deviceID] = cacheEntry{address: addr, pos: req.pos}
	q.mu.Unlock()

	observability.GeocodeResolved.Inc()

	if q.redis != nil {
		key := fmt.Sprintf("fleet:geocode:%d", req.deviceID)
		if err := q.redis.Set(context.Background(), key, addr, redisCacheTTL).Err(); err != nil {
			log.Printf("[Geocode] Redis cache write failed: %v", err)
		}
	}
}

func (q *Queue) removeFromFifo(deviceID int) {
	for i, id := range q.fifo {
		if id == deviceID {
			q.fifo = append(q.fifo[:i], q.fifo[i+1:]...)
			return
		}
	}
}

func withinEpsilon(a, b model.LatLng) bool {
	return math.Abs(a.Lat-b.Lat) < coordEpsilon && math.Abs(a.Lng-b.Lng) < coordEpsilon
}
