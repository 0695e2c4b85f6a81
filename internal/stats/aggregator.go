package stats

import (
	"time"

	"firestige.xyz/strix/internal/codec"
)

// OutcomeKind enumerates classification outcomes fed by the correlator.
type OutcomeKind int

const (
	OutcomeLinked OutcomeKind = iota
	OutcomeUnlinked
	OutcomeReused
	OutcomeRetransmits
	OutcomeLost
)

// Outcome carries one classification event. Latency is meaningful for
// OutcomeLinked; Retransmits for OutcomeRetransmits.
type Outcome struct {
	Kind        OutcomeKind
	Latency     time.Duration
	Retransmits uint64
}

// Snapshot is the read-only copy of aggregated state handed to sinks
// once per interval.
type Snapshot struct {
	Timestamp time.Time
	Interval  int
	Elapsed   time.Duration

	Gauge    [codec.MaxCode + 1]uint64
	Exchange [codec.MaxCode + 1]Latency
	Forward  [codec.MaxCode + 1]Latency

	// QuietUntil marks the snapshot as statistically unreliable when it
	// lies at or after Timestamp (capture layer reported drops).
	QuietUntil time.Time
}

// Unreliable reports whether this snapshot falls inside a quiet window.
func (s *Snapshot) Unreliable() bool {
	return !s.QuietUntil.IsZero() && !s.QuietUntil.Before(s.Timestamp)
}

// Aggregator applies classification events in O(1) and produces interval
// snapshots. It is owned by the scheduler loop and is not goroutine-safe.
type Aggregator struct {
	intervals int
	lastTick  time.Time

	gauge   [codec.MaxCode + 1]uint64
	latency [directionCount][codec.MaxCode + 1]Latency

	quietUntil time.Time
}

func NewAggregator(start time.Time) *Aggregator {
	return &Aggregator{lastTick: start}
}

// Gauge counts one observed packet of the given code.
func (a *Aggregator) Gauge(code codec.Code) {
	if code <= codec.MaxCode {
		a.gauge[code]++
	}
}

// OnClassification applies one correlator outcome to the matching bucket.
func (a *Aggregator) OnClassification(dir Direction, code codec.Code, out Outcome) {
	if code > codec.MaxCode {
		return
	}
	l := &a.latency[dir][code]
	switch out.Kind {
	case OutcomeLinked:
		l.record(out.Latency)
	case OutcomeUnlinked:
		l.Interval.Unlinked++
	case OutcomeReused:
		l.Interval.Reused++
	case OutcomeRetransmits:
		bucket := out.Retransmits
		if bucket > MaxRetransmits {
			bucket = MaxRetransmits
		}
		l.Interval.RT[bucket]++
	case OutcomeLost:
		l.Interval.Lost++
	}
}

// Quiet marks statistics unreliable until the given time. Counting is
// not suspended; the window is advisory metadata on the snapshot.
func (a *Aggregator) Quiet(until time.Time) {
	if until.After(a.quietUntil) {
		a.quietUntil = until
	}
}

// OnTick finalizes the current interval, returns its snapshot and resets
// interval-scoped fields. Cumulative fields persist.
func (a *Aggregator) OnTick(now time.Time) *Snapshot {
	a.intervals++

	snap := &Snapshot{
		Timestamp:  now,
		Interval:   a.intervals,
		Elapsed:    now.Sub(a.lastTick),
		Gauge:      a.gauge,
		QuietUntil: a.quietUntil,
	}
	a.lastTick = now

	for dir := Direction(0); dir < directionCount; dir++ {
		for code := range a.latency[dir] {
			l := &a.latency[dir][code]
			if l.Interval.Linked > 0 {
				l.Interval.LatencyAverage = l.Interval.LatencyTotal / float64(l.Interval.Linked)
			}
			l.Intervals++

			switch dir {
			case Exchange:
				snap.Exchange[code] = *l
			case Forward:
				snap.Forward[code] = *l
			}

			l.Interval = Interval{}
		}
	}
	return snap
}
