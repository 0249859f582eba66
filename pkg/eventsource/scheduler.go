package eventsource

import "time"

// Scheduler runs a callback later, off the caller's stack. The recorder
// coalesces requests itself, so a Scheduler never sees more than one pending
// callback per recorder.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

// Schedule calls f(fn).
func (f SchedulerFunc) Schedule(fn func()) { f(fn) }

// GoScheduler runs callbacks on a new goroutine as soon as possible.
type GoScheduler struct{}

// Schedule implements Scheduler.
func (GoScheduler) Schedule(fn func()) { go fn() }

// DelayScheduler runs callbacks after Delay. Events recorded within the delay
// are persisted in the same flush.
type DelayScheduler struct {
	Delay time.Duration
}

// Schedule implements Scheduler.
func (d DelayScheduler) Schedule(fn func()) { time.AfterFunc(d.Delay, fn) }

// NewScheduler returns a DelayScheduler for positive delays and a
// GoScheduler otherwise.
func NewScheduler(delay time.Duration) Scheduler {
	if delay > 0 {
		return DelayScheduler{Delay: delay}
	}
	return GoScheduler{}
}
