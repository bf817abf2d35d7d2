// Package clock abstracts timer scheduling so animation and throttle
// loops can be driven by a fake clock in tests.
package clock

import "time"

// CancelFunc stops a scheduled callback. Calling it after the callback
// fired is a no-op.
type CancelFunc func()

// Scheduler schedules one-shot callbacks against a clock.
type Scheduler interface {
	Now() time.Time
	// After runs fn once after d has elapsed. The returned cancel
	// func prevents the callback from firing if it has not yet run.
	After(d time.Duration, fn func()) CancelFunc
}

// Real is a Scheduler backed by the wall clock.
type Real struct{}

// NewReal returns a wall-clock scheduler.
func NewReal() *Real {
	return &Real{}
}

// Now returns the current wall-clock time.
func (*Real) Now() time.Time {
	return time.Now()
}

// After schedules fn via time.AfterFunc.
func (*Real) After(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
