// Package sink delivers interval statistics snapshots to a configured
// backend. Backends register themselves by name; configuration selects
// one and passes it free-form options.
package sink

import (
	"fmt"

	"firestige.xyz/strix/internal/stats"
)

// Sink consumes one snapshot per stats interval. Emit must return
// within a small bounded duration; a sink that cannot keep up drops
// data rather than stalling the capture loop.
type Sink interface {
	Emit(snap *stats.Snapshot) error
	Close() error
}

// Factory builds a sink from its raw option map.
type Factory func(opts map[string]interface{}) (Sink, error)

var registry = make(map[string]Factory)

// Register makes a sink constructor available under name. Later
// registrations replace earlier ones.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds the named sink. Unknown names are a startup error.
func New(name string, opts map[string]interface{}) (Sink, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown stats sink %q", name)
	}
	s, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s sink: %w", name, err)
	}
	return s, nil
}
