package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresInDeadlineOrder(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	var fired []string
	s.Arm(30*time.Millisecond, func(time.Time) { fired = append(fired, "c") })
	s.Arm(10*time.Millisecond, func(time.Time) { fired = append(fired, "a") })
	s.Arm(20*time.Millisecond, func(time.Time) { fired = append(fired, "b") })

	clock.advance(25 * time.Millisecond)
	assert.Equal(t, 2, s.FireDue(clock.now))
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, s.Pending())

	clock.advance(10 * time.Millisecond)
	assert.Equal(t, 1, s.FireDue(clock.now))
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerEqualDeadlinesFireInArmOrder(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	var fired []int
	for i := 0; i < 5; i++ {
		i := i
		s.Arm(time.Second, func(time.Time) { fired = append(fired, i) })
	}

	clock.advance(time.Second)
	s.FireDue(clock.now)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, fired)
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	fired := false
	timer := s.Arm(time.Second, func(time.Time) { fired = true })
	s.Cancel(timer)

	clock.advance(2 * time.Second)
	assert.Equal(t, 0, s.FireDue(clock.now))
	assert.False(t, fired)

	// Canceling again, or canceling nil, must be harmless.
	s.Cancel(timer)
	s.Cancel(nil)
}

func TestSchedulerCancelAfterFireIsNoop(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	timer := s.Arm(time.Second, func(time.Time) {})
	clock.advance(time.Second)
	require.Equal(t, 1, s.FireDue(clock.now))

	s.Cancel(timer)
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerNext(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	_, ok := s.Next()
	assert.False(t, ok)

	s.Arm(time.Minute, func(time.Time) {})
	s.Arm(time.Second, func(time.Time) {})

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(time.Second), next)
}

func TestSchedulerDrainFiresEverything(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	var fired []string
	s.Arm(time.Hour, func(time.Time) { fired = append(fired, "late") })
	s.Arm(time.Second, func(time.Time) { fired = append(fired, "early") })

	assert.Equal(t, 2, s.Drain(clock.now))
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, 0, s.Pending())
}
