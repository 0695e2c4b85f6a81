package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/source"
	"firestige.xyz/strix/internal/stats"
)

var (
	testClient = netip.MustParseAddrPort("192.0.2.10:51234")
	testServer = netip.MustParseAddrPort("192.0.2.1:1812")
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Sleep(d time.Duration)   { c.now = c.now.Add(d) }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	clock *fakeClock
	sched *Scheduler
	table *Table
	aggr  *stats.Aggregator
	corr  *Correlator
}

func newHarness(opts Options) *harness {
	if opts.Timeout == 0 {
		opts.Timeout = 6 * time.Second
	}
	clock := newFakeClock()
	sched := NewScheduler(clock)
	table := NewTable()
	aggr := stats.NewAggregator(clock.now)
	return &harness{
		clock: clock,
		sched: sched,
		table: table,
		aggr:  aggr,
		corr:  NewCorrelator(table, sched, aggr, opts),
	}
}

// packet builds a decoded capture envelope timestamped at the fake
// clock's current time. Requests flow client to server, responses the
// other way.
func (h *harness) packet(code codec.Code, id uint8, fp byte, name string) *source.Packet {
	fields := &codec.Fields{Code: code, Identifier: id}
	fields.Fingerprint[0] = fp

	p := &source.Packet{Timestamp: h.clock.now, Source: name, Fields: fields}
	if code.IsRequest() {
		p.Src, p.Dst = testClient, testServer
	} else {
		p.Src, p.Dst = testServer, testClient
	}
	return p
}

func (h *harness) process(p *source.Packet) {
	h.corr.Process(p, h.clock.now)
}

func (h *harness) snapshot() *stats.Snapshot {
	return h.aggr.OnTick(h.clock.now)
}

func TestResponseLinksWithLatency(t *testing.T) {
	h := newHarness(Options{})

	h.process(h.packet(codec.AccessRequest, 7, 0xaa, "eth0"))
	h.clock.advance(50 * time.Millisecond)
	h.process(h.packet(codec.AccessAccept, 7, 0xbb, "eth0"))

	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(1), iv.Linked)
	assert.Equal(t, uint64(0), iv.Unlinked)
	assert.InDelta(t, 0.050, iv.LatencyAverage, 1e-9)
	assert.InDelta(t, 0.050, iv.LatencyHigh, 1e-9)
	assert.InDelta(t, 0.050, iv.LatencyLow, 1e-9)
}

func TestResponseWithoutRequestIsUnlinked(t *testing.T) {
	h := newHarness(Options{})

	h.process(h.packet(codec.AccessAccept, 42, 0x01, "eth0"))

	iv := h.snapshot().Exchange[codec.AccessAccept].Interval
	assert.Equal(t, uint64(1), iv.Unlinked)
	assert.Equal(t, uint64(0), iv.Linked)
	assert.Equal(t, 0, h.table.Len())
}

func TestRetransmitsLandInHistogramOnLink(t *testing.T) {
	h := newHarness(Options{})

	for i := 0; i < 3; i++ {
		h.process(h.packet(codec.AccessRequest, 3, 0x01, "eth0"))
		h.clock.advance(time.Millisecond)
	}
	h.process(h.packet(codec.AccessAccept, 3, 0x02, "eth0"))

	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(1), iv.Linked)
	assert.Equal(t, uint64(1), iv.RT[2])
	assert.Equal(t, uint64(0), iv.RT[1])
}

func TestTimeoutCountsLostAndFlushesHistogram(t *testing.T) {
	h := newHarness(Options{Timeout: time.Second})

	h.process(h.packet(codec.AccessRequest, 9, 0x01, "eth0"))
	h.process(h.packet(codec.AccessRequest, 9, 0x01, "eth0"))
	h.clock.advance(2 * time.Second)
	h.sched.FireDue(h.clock.now)

	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(1), iv.Lost)
	assert.Equal(t, uint64(1), iv.RT[1])
	assert.Equal(t, 0, h.table.Len())
}

func TestIdentifierReuseWhilePending(t *testing.T) {
	h := newHarness(Options{Timeout: time.Second})

	h.process(h.packet(codec.AccessRequest, 5, 0x01, "eth0"))
	h.process(h.packet(codec.AccessRequest, 5, 0x02, "eth0"))
	require.Equal(t, 1, h.table.Len())

	// Only the second request is still pending; the superseded one is
	// neither linked nor lost.
	h.clock.advance(2 * time.Second)
	h.sched.FireDue(h.clock.now)

	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(1), iv.Reused)
	assert.Equal(t, uint64(1), iv.Lost)
}

func TestNewRequestAfterLinkIsNotReuse(t *testing.T) {
	h := newHarness(Options{Timeout: time.Second})

	h.process(h.packet(codec.AccessRequest, 5, 0x01, "eth0"))
	h.process(h.packet(codec.AccessAccept, 5, 0x02, "eth0"))
	h.process(h.packet(codec.AccessRequest, 5, 0x03, "eth0"))
	h.clock.advance(time.Millisecond)
	h.process(h.packet(codec.AccessAccept, 5, 0x04, "eth0"))

	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(2), iv.Linked)
	assert.Equal(t, uint64(0), iv.Reused)
}

func TestDequeueRemovesLinkedEntry(t *testing.T) {
	var dq [codec.MaxCode + 1]bool
	dq[codec.AccessRequest] = true
	h := newHarness(Options{Dequeue: dq})

	h.process(h.packet(codec.AccessRequest, 1, 0x01, "eth0"))
	h.process(h.packet(codec.AccessAccept, 1, 0x02, "eth0"))
	assert.Equal(t, 0, h.table.Len())

	// With the entry gone a duplicate response has nothing to match.
	h.process(h.packet(codec.AccessAccept, 1, 0x02, "eth0"))

	iv := h.snapshot().Exchange[codec.AccessAccept].Interval
	assert.Equal(t, uint64(1), iv.Unlinked)
}

func TestLingeringEntryAbsorbsDuplicateResponses(t *testing.T) {
	h := newHarness(Options{Timeout: time.Second})

	h.process(h.packet(codec.AccessRequest, 1, 0x01, "eth0"))
	h.process(h.packet(codec.AccessAccept, 1, 0x02, "eth0"))
	h.process(h.packet(codec.AccessAccept, 1, 0x02, "eth0"))
	h.process(h.packet(codec.AccessAccept, 1, 0x02, "eth0"))
	require.Equal(t, 1, h.table.Len())

	h.clock.advance(2 * time.Second)
	h.sched.FireDue(h.clock.now)

	snap := h.snapshot()
	assert.Equal(t, uint64(0), snap.Exchange[codec.AccessAccept].Interval.Unlinked)
	assert.Equal(t, uint64(1), snap.Exchange[codec.AccessAccept].Interval.RT[2])
	assert.Equal(t, uint64(0), snap.Exchange[codec.AccessRequest].Interval.Lost)
	assert.Equal(t, 0, h.table.Len())
}

func TestForwardedCopyRecordsForwardLatency(t *testing.T) {
	h := newHarness(Options{})

	h.process(h.packet(codec.AccountingRequest, 4, 0x07, "eth0"))
	h.clock.advance(3 * time.Millisecond)
	// Same content observed on another stream: the relayed copy.
	h.process(h.packet(codec.AccountingRequest, 4, 0x07, "eth1"))
	h.clock.advance(10 * time.Millisecond)
	h.process(h.packet(codec.AccountingResponse, 4, 0x08, "eth0"))

	snap := h.snapshot()
	fwd := snap.Forward[codec.AccountingRequest].Interval
	assert.Equal(t, uint64(1), fwd.Linked)
	assert.InDelta(t, 0.003, fwd.LatencyAverage, 1e-9)

	exch := snap.Exchange[codec.AccountingRequest].Interval
	assert.Equal(t, uint64(1), exch.Linked)
	assert.InDelta(t, 0.013, exch.LatencyAverage, 1e-9)
	assert.Equal(t, uint64(0), exch.RT[1])
}

func TestRetransmitOnSameStreamIsNotForward(t *testing.T) {
	h := newHarness(Options{})

	h.process(h.packet(codec.AccessRequest, 6, 0x01, "eth0"))
	h.process(h.packet(codec.AccessRequest, 6, 0x01, "eth0"))
	h.process(h.packet(codec.AccessAccept, 6, 0x02, "eth0"))

	snap := h.snapshot()
	assert.Equal(t, uint64(0), snap.Forward[codec.AccessRequest].Interval.Linked)
	assert.Equal(t, uint64(1), snap.Exchange[codec.AccessRequest].Interval.RT[1])
}

func TestEvictionSkipsLossAccounting(t *testing.T) {
	h := newHarness(Options{Timeout: time.Second, Limit: 1})

	h.process(h.packet(codec.AccessRequest, 1, 0x01, "eth0"))
	h.process(h.packet(codec.AccessRequest, 2, 0x02, "eth0"))
	assert.Equal(t, 1, h.table.Len())

	h.clock.advance(2 * time.Second)
	h.sched.FireDue(h.clock.now)

	// Only the surviving request expired as lost; the evicted one is
	// excluded from loss accounting.
	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(1), iv.Lost)
}

func TestClockSkewClampsLatencyToZero(t *testing.T) {
	h := newHarness(Options{})

	req := h.packet(codec.AccessRequest, 2, 0x01, "eth0")
	rsp := h.packet(codec.AccessAccept, 2, 0x02, "eth0")
	rsp.Timestamp = req.Timestamp.Add(-time.Millisecond)

	h.process(req)
	h.process(rsp)

	iv := h.snapshot().Exchange[codec.AccessRequest].Interval
	assert.Equal(t, uint64(1), iv.Linked)
	assert.Equal(t, 0.0, iv.LatencyTotal)
}

func TestStatusServerExchange(t *testing.T) {
	h := newHarness(Options{})

	h.process(h.packet(codec.StatusServer, 12, 0x01, "eth0"))
	h.clock.advance(time.Millisecond)
	h.process(h.packet(codec.AccessAccept, 12, 0x02, "eth0"))

	iv := h.snapshot().Exchange[codec.StatusServer].Interval
	assert.Equal(t, uint64(1), iv.Linked)
}
