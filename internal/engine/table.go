package engine

import (
	"errors"
	"net/netip"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/source"
)

// ErrDuplicateKey is returned by Insert when an unexpired entry already
// holds the key. The correlator decides retransmission vs. reuse before
// inserting, so hitting this is an internal-consistency defect.
var ErrDuplicateKey = errors.New("duplicate correlation key")

// Key identifies one in-flight exchange: the client and server
// endpoints plus the RADIUS identifier octet.
type Key struct {
	Client netip.AddrPort
	Server netip.AddrPort
	ID     uint8
}

// Request is one outstanding request awaiting its response.
type Request struct {
	// ID is the process-local monotonically increasing packet counter.
	// Wraparound after 2^64 requests is accepted, not an error.
	ID uint64

	Key         Key
	Packet      *source.Packet
	Source      string
	Code        codec.Code
	Fingerprint codec.Fingerprint

	RetransmitsReq uint64
	RetransmitsRsp uint64

	// Linked is the response that closed this request, when the
	// per-code keep policy retains the entry to absorb duplicates.
	Linked *source.Packet

	Timer *Timer

	// ForcedCleanup marks entries torn down by capacity policy; they
	// contribute to neither lost nor linked accounting.
	ForcedCleanup bool
}

// Table is the keyed store of outstanding requests. Lookup, insert and
// removal are O(1) expected time; eviction order is insertion order.
type Table struct {
	entries map[Key]*Request
	// fifo holds insertion order for eviction sweeps. Entries removed
	// out of order leave stale heads that Oldest skips lazily.
	fifo []*Request
}

func NewTable() *Table {
	return &Table{entries: make(map[Key]*Request)}
}

func (t *Table) Len() int { return len(t.entries) }

func (t *Table) Insert(key Key, r *Request) error {
	if _, ok := t.entries[key]; ok {
		return ErrDuplicateKey
	}
	r.Key = key
	t.entries[key] = r
	t.fifo = append(t.fifo, r)
	return nil
}

func (t *Table) Find(key Key) *Request {
	return t.entries[key]
}

func (t *Table) Remove(key Key) *Request {
	r, ok := t.entries[key]
	if !ok {
		return nil
	}
	delete(t.entries, key)
	return r
}

// Oldest returns the least recently inserted live entry.
func (t *Table) Oldest() *Request {
	for len(t.fifo) > 0 {
		head := t.fifo[0]
		if cur, ok := t.entries[head.Key]; ok && cur == head {
			return head
		}
		t.fifo[0] = nil
		t.fifo = t.fifo[1:]
	}
	return nil
}
