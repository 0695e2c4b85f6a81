package engine

import (
	"container/heap"
	"time"
)

// TimerFunc is invoked when a timer fires. It runs on the scheduler
// loop; it must not block.
type TimerFunc func(now time.Time)

// Timer is an armed-or-spent timer handle. Once fired or canceled the
// handle is invalidated; canceling again is a no-op and firing after
// cancellation is impossible because cancellation removes the timer
// from the deadline heap.
type Timer struct {
	deadline time.Time
	seq      uint64
	fn       TimerFunc
	index    int
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is the single cooperative timer registry of the event loop.
// It is not goroutine-safe; all calls happen on the loop.
type Scheduler struct {
	clock  Clock
	timers timerHeap
	seq    uint64
}

func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Arm registers fn to fire once delay from now has elapsed.
func (s *Scheduler) Arm(delay time.Duration, fn TimerFunc) *Timer {
	s.seq++
	t := &Timer{
		deadline: s.clock.Now().Add(delay),
		seq:      s.seq,
		fn:       fn,
	}
	heap.Push(&s.timers, t)
	return t
}

// Cancel disarms t. It is a no-op if t already fired or was canceled.
func (s *Scheduler) Cancel(t *Timer) {
	if t == nil || t.index < 0 {
		return
	}
	heap.Remove(&s.timers, t.index)
}

// FireDue fires every timer whose deadline is at or before now, in
// deadline order, and returns the number fired.
func (s *Scheduler) FireDue(now time.Time) int {
	fired := 0
	for len(s.timers) > 0 && !s.timers[0].deadline.After(now) {
		t := heap.Pop(&s.timers).(*Timer)
		t.fn(now)
		fired++
	}
	return fired
}

// Next returns the earliest armed deadline.
func (s *Scheduler) Next() (time.Time, bool) {
	if len(s.timers) == 0 {
		return time.Time{}, false
	}
	return s.timers[0].deadline, true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int { return len(s.timers) }

// Drain fires all remaining timers in deadline order regardless of
// their deadlines. Used when every capture source is exhausted so that
// offline replay terminates without waiting out real time.
func (s *Scheduler) Drain(now time.Time) int {
	fired := 0
	for len(s.timers) > 0 {
		t := heap.Pop(&s.timers).(*Timer)
		t.fn(now)
		fired++
	}
	return fired
}
