package engine

import "time"

// Clock abstracts the monotonic clock driving the scheduler loop, so
// expiry and tick behavior is testable without wall-clock waits.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// NewClock returns the real monotonic clock.
func NewClock() Clock { return realClock{} }
