package geocode

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingResolver lets tests hold the worker inside a resolution and
// observe the order and coordinates of resolve calls.
type blockingResolver struct {
	mu      sync.Mutex
	calls   []float64 // lat of each call, in order
	entered chan float64
	gate    chan struct{}
	failing bool
}

func newBlockingResolver() *blockingResolver {
	return &blockingResolver{
		entered: make(chan float64, 16),
		gate:    make(chan struct{}, 16),
	}
}

func (r *blockingResolver) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	r.entered <- lat
	select {
	case <-r.gate:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	r.mu.Lock()
	r.calls = append(r.calls, lat)
	failing := r.failing
	r.mu.Unlock()

	if failing {
		return "", fmt.Errorf("provider unavailable")
	}
	return fmt.Sprintf("Street %.1f", lat), nil
}

func (r *blockingResolver) callLats() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *blockingResolver) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

func (r *blockingResolver) waitEntered(t *testing.T) float64 {
	t.Helper()
	select {
	case lat := <-r.entered:
		return lat
	case <-time.After(2 * time.Second):
		t.Fatal("resolver was never called")
		return 0
	}
}

func (r *blockingResolver) release() { r.gate <- struct{}{} }

func startQueue(t *testing.T, r Resolver) *Queue {
	t.Helper()
	q := NewQueue(r, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func waitForAddress(t *testing.T, q *Queue, deviceID int, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		addr, _ := q.Address(deviceID)
		return addr == want
	}, 2*time.Second, 5*time.Millisecond, "device %d never resolved to %q", deviceID, want)
}

func TestQueue_DeduplicatesPendingRequests(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1, 2})

	// Occupy the worker with device 2 so device 1 stays pending.
	q.Enqueue(2, 50.0, 10.0, false)
	r.waitEntered(t)

	// Two updates for device 1 while queued: the second replaces the
	// first instead of queuing a duplicate.
	q.Enqueue(1, 30.0, 10.0, false)
	q.Enqueue(1, 31.0, 10.0, false)

	r.release()
	lat := r.waitEntered(t)
	assert.Equal(t, 31.0, lat, "only the latest position is resolved")
	r.release()

	waitForAddress(t, q, 1, "Street 31.0")
	assert.Equal(t, []float64{50.0, 31.0}, r.callLats(), "exactly one resolve per device")
}

func TestQueue_PriorityJumpsAhead(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1, 2, 9})

	q.Enqueue(9, 90.0, 10.0, false)
	r.waitEntered(t)

	// Two background devices queued, then a focused high-priority one.
	q.Enqueue(1, 10.0, 10.0, false)
	q.Enqueue(2, 20.0, 10.0, false)
	q.Enqueue(3, 30.0, 10.0, true)

	r.release()
	assert.Equal(t, 30.0, r.waitEntered(t), "priority request first")
	r.release()
	assert.Equal(t, 10.0, r.waitEntered(t))
	r.release()
	assert.Equal(t, 20.0, r.waitEntered(t))
	r.release()

	waitForAddress(t, q, 2, "Street 20.0")
}

func TestQueue_PriorityUpgradeOfPendingRequest(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1, 2, 9})

	q.Enqueue(9, 90.0, 10.0, false)
	r.waitEntered(t)

	q.Enqueue(1, 10.0, 10.0, false)
	q.Enqueue(2, 20.0, 10.0, false)
	// Device 2 gets focused while still queued behind device 1.
	q.Enqueue(2, 20.0, 10.0, true)

	r.release()
	assert.Equal(t, 20.0, r.waitEntered(t), "upgraded request moves ahead")
	r.release()
	assert.Equal(t, 10.0, r.waitEntered(t))
	r.release()

	waitForAddress(t, q, 1, "Street 10.0")
}

func TestQueue_InvisibleBackgroundRequestsDropped(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1})

	q.Enqueue(7, 70.0, 10.0, false)
	q.Enqueue(1, 10.0, 10.0, false)
	r.release()
	waitForAddress(t, q, 1, "Street 10.0")

	assert.Equal(t, []float64{10.0}, r.callLats(), "off-screen device never resolved")

	// The dropped device still gets a coordinate fallback label.
	addr, loading := q.Address(7)
	assert.Equal(t, "70.00000, 10.00000", addr)
	assert.False(t, loading)
}

func TestQueue_FocusedDeviceBypassesVisibility(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1})
	q.SetFocused(7)

	q.Enqueue(7, 70.0, 10.0, false)
	r.release()
	waitForAddress(t, q, 7, "Street 70.0")

	q.ClearFocused()
	q.Enqueue(7, 75.0, 10.0, false)

	// Flush a visible device through to prove 7 was dropped, not queued.
	q.Enqueue(1, 10.0, 10.0, false)
	r.release()
	waitForAddress(t, q, 1, "Street 10.0")
	assert.Equal(t, []float64{70.0, 10.0}, r.callLats())
}

func TestQueue_EpsilonSkipsFreshCache(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1, 2})

	q.Enqueue(1, 30.0, 10.0, false)
	r.release()
	waitForAddress(t, q, 1, "Street 30.0")

	// Sub-epsilon drift keeps the cached address.
	q.Enqueue(1, 30.0001, 10.0001, false)
	q.Enqueue(2, 20.0, 10.0, false)
	r.release()
	waitForAddress(t, q, 2, "Street 20.0")
	assert.Equal(t, []float64{30.0, 20.0}, r.callLats(), "cached device not re-resolved")

	// Real movement re-resolves.
	q.Enqueue(1, 30.01, 10.0, false)
	r.release()
	waitForAddress(t, q, 1, "Street 30.0")
	require.Eventually(t, func() bool {
		return len(r.callLats()) == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueue_FailureKeepsPreviousAddress(t *testing.T) {
	r := newBlockingResolver()
	q := startQueue(t, r)
	q.SetVisible([]int{1})

	q.Enqueue(1, 30.0, 10.0, false)
	r.release()
	waitForAddress(t, q, 1, "Street 30.0")

	r.setFailing(true)
	q.Enqueue(1, 35.0, 10.0, false)
	r.waitEntered(t)
	r.release()

	require.Eventually(t, func() bool {
		_, loading := q.Address(1)
		return !loading
	}, 2*time.Second, 5*time.Millisecond)

	addr, _ := q.Address(1)
	assert.Equal(t, "Street 30.0", addr, "failed resolve leaves the old address in place")
}
