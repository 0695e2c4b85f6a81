package engine

import (
	"time"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/metrics"
	"firestige.xyz/strix/internal/source"
	"firestige.xyz/strix/internal/stats"
)

// Correlator classifies captured packets and drives request table
// entries through Pending → Linked/Expired/Evicted.
type Correlator struct {
	table *Table
	sched *Scheduler
	aggr  *stats.Aggregator

	timeout time.Duration
	dequeue [codec.MaxCode + 1]bool
	limit   int

	nextID uint64
	logger log.Logger
}

func NewCorrelator(table *Table, sched *Scheduler, aggr *stats.Aggregator, opts Options) *Correlator {
	return &Correlator{
		table:   table,
		sched:   sched,
		aggr:    aggr,
		timeout: opts.Timeout,
		dequeue: opts.Dequeue,
		limit:   opts.Limit,
		logger:  log.GetLogger(),
	}
}

// deriveKey orients the endpoint pair so requests and their responses
// produce the same key: the client is the request's source and the
// response's destination.
func deriveKey(p *source.Packet) Key {
	if p.Fields.Code.IsRequest() {
		return Key{Client: p.Src, Server: p.Dst, ID: p.Fields.Identifier}
	}
	return Key{Client: p.Dst, Server: p.Src, ID: p.Fields.Identifier}
}

// Process classifies one packet. now is the loop's monotonic time, used
// for expiry deadlines; latency always comes from capture timestamps.
func (c *Correlator) Process(p *source.Packet, now time.Time) {
	code := p.Fields.Code
	key := deriveKey(p)
	entry := c.table.Find(key)

	switch {
	case code.IsRequest():
		c.processRequest(key, p, entry)
	case code.IsResponse():
		c.processResponse(key, p, entry)
	default:
		c.logger.WithField("code", code.String()).Debug("ignoring packet of unexpected code")
	}
}

func (c *Correlator) processRequest(key Key, p *source.Packet, entry *Request) {
	if entry == nil {
		c.insert(key, p)
		return
	}

	if entry.Linked != nil {
		// The entry is only lingering to absorb duplicate responses.
		if p.Fields.Fingerprint == entry.Fingerprint {
			entry.RetransmitsReq++
			return
		}
		// Answered exchange superseded by a new request on the same
		// key; not an identifier reuse, the old request resolved.
		c.retire(entry)
		c.insert(key, p)
		return
	}

	if p.Fields.Fingerprint == entry.Fingerprint {
		if p.Source != entry.Source {
			// Same request observed again on another stream: the copy
			// relayed by an intermediate host.
			latency := clampLatency(p.Timestamp.Sub(entry.Packet.Timestamp))
			c.aggr.OnClassification(stats.Forward, entry.Code, stats.Outcome{
				Kind:    stats.OutcomeLinked,
				Latency: latency,
			})
			return
		}
		entry.RetransmitsReq++
		return
	}

	// Same key, different content: the client reused the identifier
	// while the original request was still unanswered. The old entry is
	// superseded; it counts as neither linked nor lost.
	c.aggr.OnClassification(stats.Exchange, p.Fields.Code, stats.Outcome{Kind: stats.OutcomeReused})
	c.retire(entry)
	c.insert(key, p)
}

func (c *Correlator) processResponse(key Key, p *source.Packet, entry *Request) {
	if entry == nil {
		c.aggr.OnClassification(stats.Exchange, p.Fields.Code, stats.Outcome{Kind: stats.OutcomeUnlinked})
		return
	}

	if entry.Linked != nil {
		entry.RetransmitsRsp++
		return
	}

	latency := clampLatency(p.Timestamp.Sub(entry.Packet.Timestamp))
	c.aggr.OnClassification(stats.Exchange, entry.Code, stats.Outcome{
		Kind:    stats.OutcomeLinked,
		Latency: latency,
	})
	if entry.RetransmitsReq > 0 {
		c.aggr.OnClassification(stats.Exchange, entry.Code, stats.Outcome{
			Kind:        stats.OutcomeRetransmits,
			Retransmits: entry.RetransmitsReq,
		})
	}

	if c.dequeue[entry.Code] {
		c.retire(entry)
		return
	}
	// Keep the entry until its timer fires so duplicate responses are
	// matched instead of counting as unlinked.
	entry.Linked = p
}

// insert creates a Pending entry and arms its expiry timer.
func (c *Correlator) insert(key Key, p *source.Packet) {
	if c.limit > 0 && c.table.Len() >= c.limit {
		c.evictOldest()
	}

	r := &Request{
		ID:          c.nextID,
		Packet:      p,
		Source:      p.Source,
		Code:        p.Fields.Code,
		Fingerprint: p.Fields.Fingerprint,
	}
	c.nextID++

	r.Timer = c.sched.Arm(c.timeout, func(now time.Time) {
		c.onExpiry(r)
	})

	if err := c.table.Insert(key, r); err != nil {
		// Find said the key was free; Insert disagreeing means the
		// classification state machine violated its own invariant.
		c.sched.Cancel(r.Timer)
		c.logger.WithFields(map[string]interface{}{
			"client": key.Client.String(),
			"server": key.Server.String(),
			"id":     key.ID,
		}).Error("internal consistency error: duplicate key on insert")
		return
	}
	metrics.OutstandingRequests.Set(float64(c.table.Len()))
}

// retire removes an entry whose outcome is already accounted for.
func (c *Correlator) retire(entry *Request) {
	c.sched.Cancel(entry.Timer)
	c.table.Remove(entry.Key)
	metrics.OutstandingRequests.Set(float64(c.table.Len()))
}

// onExpiry fires when a request's response window closes.
func (c *Correlator) onExpiry(r *Request) {
	if c.table.Find(r.Key) == r {
		c.table.Remove(r.Key)
		metrics.OutstandingRequests.Set(float64(c.table.Len()))
	}

	if r.Linked != nil {
		// Linked entry kept to absorb duplicates; flush the duplicate
		// response count and retire quietly.
		if r.RetransmitsRsp > 0 {
			c.aggr.OnClassification(stats.Exchange, r.Linked.Fields.Code, stats.Outcome{
				Kind:        stats.OutcomeRetransmits,
				Retransmits: r.RetransmitsRsp,
			})
		}
		return
	}
	if r.ForcedCleanup {
		return
	}

	c.aggr.OnClassification(stats.Exchange, r.Code, stats.Outcome{Kind: stats.OutcomeLost})
	if r.RetransmitsReq > 0 {
		c.aggr.OnClassification(stats.Exchange, r.Code, stats.Outcome{
			Kind:        stats.OutcomeRetransmits,
			Retransmits: r.RetransmitsReq,
		})
	}
	if c.logger.IsDebugEnabled() {
		c.logger.WithFields(map[string]interface{}{
			"code":   r.Code.String(),
			"client": r.Key.Client.String(),
		}).Debug("request expired without response")
	}
}

// evictOldest applies the table-full policy: the least recently
// inserted entry is torn down with forced_cleanup so it skips loss
// accounting.
func (c *Correlator) evictOldest() {
	oldest := c.table.Oldest()
	if oldest == nil {
		return
	}
	oldest.ForcedCleanup = true
	c.retire(oldest)
	metrics.EvictionsTotal.Inc()
	c.logger.WithField("client", oldest.Key.Client.String()).
		Warn("request table full, evicting oldest entry")
}

// clampLatency floors negative differences, which occur when capture
// clocks across sources disagree slightly.
func clampLatency(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
