package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Scheduler for tests. Callbacks fire
// synchronously from Advance, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id       int
	deadline time.Time
	fn       func()
}

// NewFake returns a fake scheduler starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:    start,
		timers: make(map[int]*fakeTimer),
	}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers fn to fire once the fake clock has advanced past d.
func (f *Fake) After(d time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.timers[id] = &fakeTimer{id: id, deadline: f.now.Add(d), fn: fn}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.timers, id)
		f.mu.Unlock()
	}
}

// Advance moves the clock forward by d, firing due callbacks in
// deadline order. Callbacks may schedule further timers; those fire
// too if they fall within the advanced window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var due []*fakeTimer
		for _, t := range f.timers {
			if !t.deadline.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			f.now = target
			f.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].deadline.Equal(due[j].deadline) {
				return due[i].id < due[j].id
			}
			return due[i].deadline.Before(due[j].deadline)
		})
		next := due[0]
		delete(f.timers, next.id)
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		f.mu.Unlock()

		next.fn()
	}
}

// PendingTimers returns the number of timers waiting to fire.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}
