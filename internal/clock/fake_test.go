package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	f := NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	var order []string
	f.After(300*time.Millisecond, func() { order = append(order, "c") })
	f.After(100*time.Millisecond, func() { order = append(order, "a") })
	f.After(200*time.Millisecond, func() { order = append(order, "b") })

	f.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, f.PendingTimers())
}

func TestFake_CancelPreventsFiring(t *testing.T) {
	f := NewFake(time.Now())

	fired := false
	cancel := f.After(100*time.Millisecond, func() { fired = true })
	cancel()

	f.Advance(time.Second)
	assert.False(t, fired)
}

func TestFake_ChainedTimersFireWithinWindow(t *testing.T) {
	f := NewFake(time.Now())

	// Each callback schedules the next, mimicking an animation loop.
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		if ticks < 5 {
			f.After(100*time.Millisecond, tick)
		}
	}
	f.After(100*time.Millisecond, tick)

	f.Advance(time.Second)
	assert.Equal(t, 5, ticks)
}

func TestFake_AdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var seen time.Time
	f.After(250*time.Millisecond, func() { seen = f.Now() })

	f.Advance(time.Second)
	assert.Equal(t, start.Add(250*time.Millisecond), seen, "callback sees the deadline as now")
	assert.Equal(t, start.Add(time.Second), f.Now())
}
