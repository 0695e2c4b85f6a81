// Package stats keeps per-code latency and loss accounting for the
// correlation engine. All counters are interval-scoped except the
// cumulative moving average, which persists for the process lifetime.
package stats

import (
	"time"
)

// MaxRetransmits is the last bucket of the retransmission histogram;
// requests seen retransmitted this many times or more all land there.
const MaxRetransmits = 5

// Direction separates exchanges observed directly (request/response)
// from exchanges observed after relay through an intermediate host.
type Direction int

const (
	Exchange Direction = iota
	Forward

	directionCount
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "exchange"
}

// Interval holds the counters reset on every stats tick.
type Interval struct {
	Linked   uint64
	Unlinked uint64
	Reused   uint64
	RT       [MaxRetransmits + 1]uint64
	Lost     uint64

	LatencyTotal   float64 // seconds
	LatencyAverage float64 // 0 means no samples this interval
	LatencyHigh    float64
	LatencyLow     float64
}

// Latency is one (direction, code) accounting bucket.
type Latency struct {
	Intervals int

	// Cumulative moving average and its sample count. Never reset.
	CMA      float64
	CMACount uint64

	Interval Interval
}

func (l *Latency) record(latency time.Duration) {
	sec := latency.Seconds()
	iv := &l.Interval

	iv.Linked++
	iv.LatencyTotal += sec
	if sec > iv.LatencyHigh {
		iv.LatencyHigh = sec
	}
	if iv.LatencyLow == 0 || sec < iv.LatencyLow {
		iv.LatencyLow = sec
	}

	l.CMA += (sec - l.CMA) / float64(l.CMACount+1)
	l.CMACount++
}
