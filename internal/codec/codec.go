// Package codec extracts the RADIUS fields the correlation engine needs
// from raw UDP payloads. It deliberately stops short of semantic
// decoding: the shared secret is used to decode attributes, never to
// authenticate them.
package codec

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"sort"

	"layeh.com/radius"
)

// Fingerprint discriminates packets sharing a correlation key. For two
// packets with the same key, equal fingerprints mean the same request
// seen again; differing fingerprints mean the identifier was reused for
// a new request.
type Fingerprint [16]byte

// Fields holds the decoded header fields relevant to correlation.
type Fields struct {
	Code          Code
	Identifier    uint8
	Authenticator [16]byte
	Fingerprint   Fingerprint
}

// Decoder parses RADIUS payloads into Fields.
type Decoder struct {
	secret []byte
	sort   bool
}

// NewDecoder returns a Decoder using the given shared secret. When
// sortAttributes is set, the content fingerprint is computed over the
// attribute list canonicalized by type and value, so packets re-ordered
// in transit (proxies commonly do this) still compare equal.
func NewDecoder(secret string, sortAttributes bool) *Decoder {
	return &Decoder{secret: []byte(secret), sort: sortAttributes}
}

// Decode parses a RADIUS payload. The returned Fields are self-contained;
// the payload may be reused by the caller.
func (d *Decoder) Decode(payload []byte) (*Fields, error) {
	p, err := radius.Parse(payload, d.secret)
	if err != nil {
		return nil, fmt.Errorf("radius parse: %w", err)
	}
	f := &Fields{
		Code:          Code(p.Code),
		Identifier:    p.Identifier,
		Authenticator: p.Authenticator,
	}
	if d.sort {
		f.Fingerprint = sortedFingerprint(p)
	} else {
		// The request authenticator is random per request and carried
		// unchanged by retransmissions, which makes it a fingerprint for
		// free.
		f.Fingerprint = Fingerprint(p.Authenticator)
	}
	return f, nil
}

func sortedFingerprint(p *radius.Packet) Fingerprint {
	attrs := make([]*radius.AVP, len(p.Attributes))
	copy(attrs, p.Attributes)
	sort.SliceStable(attrs, func(i, j int) bool {
		if attrs[i].Type != attrs[j].Type {
			return attrs[i].Type < attrs[j].Type
		}
		return bytes.Compare(attrs[i].Attribute, attrs[j].Attribute) < 0
	})

	h := md5.New()
	h.Write([]byte{byte(p.Code), p.Identifier})
	for _, a := range attrs {
		h.Write([]byte{byte(a.Type), byte(len(a.Attribute))})
		h.Write(a.Attribute)
	}
	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}
