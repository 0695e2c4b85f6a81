// Package engine runs the single-threaded correlation loop: it polls
// capture sources with a fairness bound, fires expiry and stats timers,
// and owns all mutation of the request table and aggregator.
package engine

import (
	"context"
	"time"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/metrics"
	"firestige.xyz/strix/internal/output"
	"firestige.xyz/strix/internal/sink"
	"firestige.xyz/strix/internal/source"
	"firestige.xyz/strix/internal/stats"
)

// ForceYield is the number of packets serviced from one source before
// control returns to the multiplexer, so a busy stream cannot starve
// the others.
const ForceYield = 100

// idlePoll bounds the sleep when no source had data and no timer is due
// soon.
const idlePoll = 5 * time.Millisecond

// Options is the immutable engine configuration.
type Options struct {
	// Timeout is how long an unanswered request stays Pending.
	Timeout time.Duration
	// Interval is the period between stats snapshots.
	Interval time.Duration
	// Dequeue marks request codes whose entries are removed as soon as
	// a response links, instead of lingering to absorb duplicates.
	Dequeue [codec.MaxCode + 1]bool
	// Limit caps the request table; 0 means unbounded.
	Limit int
	// Clock drives deadlines; nil selects the real monotonic clock.
	Clock Clock
}

// Engine wires sources, correlator, aggregator and sink together.
type Engine struct {
	opts    Options
	clock   Clock
	sched   *Scheduler
	table   *Table
	corr    *Correlator
	aggr    *stats.Aggregator
	sink    sink.Sink
	writer  *output.Writer
	sources []source.Source

	lastDrops map[string]uint64
	draining  bool
	logger    log.Logger
}

// New constructs an engine. The optional writer receives every accepted
// packet; pass nil to disable the secondary pcap output.
func New(opts Options, sources []source.Source, snk sink.Sink, writer *output.Writer) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = NewClock()
	}
	sched := NewScheduler(clock)
	table := NewTable()
	aggr := stats.NewAggregator(clock.Now())

	return &Engine{
		opts:      opts,
		clock:     clock,
		sched:     sched,
		table:     table,
		corr:      NewCorrelator(table, sched, aggr, opts),
		aggr:      aggr,
		sink:      snk,
		writer:    writer,
		sources:   sources,
		lastDrops: make(map[string]uint64),
		logger:    log.GetLogger(),
	}
}

// Run drives the loop until ctx is canceled or every source is
// exhausted. It emits a final snapshot before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.armTick()

	for {
		if ctx.Err() != nil {
			e.finish(false)
			return nil
		}

		now := e.clock.Now()
		e.sched.FireDue(now)

		serviced := e.serviceSources()

		if len(e.sources) == 0 {
			e.finish(true)
			return nil
		}
		if serviced == 0 {
			e.idle(now)
		}
	}
}

// serviceSources polls each source for up to ForceYield packets,
// removing sources that turned terminal.
func (e *Engine) serviceSources() int {
	serviced := 0
	remaining := e.sources[:0]

	for _, src := range e.sources {
		terminal := false
		for i := 0; i < ForceYield; i++ {
			p, err := src.Poll()
			if err != nil {
				e.logger.WithError(err).WithField("source", src.Name()).
					Error("capture source failed, removing from poll set")
				terminal = true
				break
			}
			if p == nil {
				break
			}
			e.process(p)
			serviced++
		}
		if src.Exhausted() {
			e.logger.WithField("source", src.Name()).Info("capture source exhausted")
			terminal = true
		}
		if terminal {
			src.Close()
			continue
		}
		remaining = append(remaining, src)
	}

	e.sources = remaining
	return serviced
}

func (e *Engine) process(p *source.Packet) {
	e.aggr.Gauge(p.Fields.Code)
	if e.writer != nil {
		if err := e.writer.WritePacket(p); err != nil {
			e.logger.WithError(err).Warn("failed to write packet to output file")
		}
	}
	e.corr.Process(p, e.clock.Now())
}

// idle sleeps until the next timer deadline, bounded by idlePoll.
func (e *Engine) idle(now time.Time) {
	d := idlePoll
	if next, ok := e.sched.Next(); ok {
		if until := next.Sub(now); until < d {
			d = until
		}
	}
	if d > 0 {
		e.clock.Sleep(d)
	}
}

func (e *Engine) armTick() {
	if e.draining {
		return
	}
	e.sched.Arm(e.opts.Interval, e.onTick)
}

func (e *Engine) onTick(now time.Time) {
	if e.draining {
		return
	}
	e.checkDrops(now)
	e.emit(now)
	e.armTick()
}

func (e *Engine) emit(now time.Time) {
	snap := e.aggr.OnTick(now)
	if err := e.sink.Emit(snap); err != nil {
		e.logger.WithError(err).Warn("stats sink emit failed")
	}
}

// checkDrops compares each live source's kernel drop counter against
// the previous tick and opens a quiet window when new drops appeared:
// loss observed while the kernel was shedding packets is not
// trustworthy.
func (e *Engine) checkDrops(now time.Time) {
	for _, src := range e.sources {
		drops, ok := src.Drops()
		if !ok {
			continue
		}
		metrics.KernelDropsTotal.WithLabelValues(src.Name()).Set(float64(drops))
		if drops > e.lastDrops[src.Name()] {
			e.lastDrops[src.Name()] = drops
			e.aggr.Quiet(now.Add(e.opts.Interval))
			e.logger.WithFields(map[string]interface{}{
				"source": src.Name(),
				"drops":  drops,
			}).Warn("capture layer dropped packets, marking stats quiet")
		}
	}
}

// finish flushes the loop on shutdown. When drain is set (all finite
// sources exhausted) remaining expiry timers fire immediately so
// unanswered requests are accounted as lost without waiting out their
// real-time deadlines; on cancellation pending requests are simply
// discarded.
func (e *Engine) finish(drain bool) {
	e.draining = true
	now := e.clock.Now()
	if drain {
		e.sched.Drain(now)
	}
	e.emit(now)

	for _, src := range e.sources {
		src.Close()
	}
	if e.writer != nil {
		if err := e.writer.Close(); err != nil {
			e.logger.WithError(err).Warn("failed to close output file")
		}
	}
	if err := e.sink.Close(); err != nil {
		e.logger.WithError(err).Warn("failed to close stats sink")
	}
}
