package sink

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/stats"
)

const consoleName = "console"

func init() {
	Register(consoleName, func(opts map[string]interface{}) (Sink, error) {
		var o consoleOptions
		if err := mapstructure.Decode(opts, &o); err != nil {
			return nil, err
		}
		return NewConsole(os.Stdout, o), nil
	})
}

type consoleOptions struct {
	// Cumulative includes the gauge totals and CMA block even for codes
	// with no activity this interval.
	Cumulative bool `mapstructure:"cumulative"`
}

// ConsoleSink renders each snapshot as a human-readable block.
type ConsoleSink struct {
	w    io.Writer
	opts consoleOptions
}

func NewConsole(w io.Writer, opts consoleOptions) *ConsoleSink {
	return &ConsoleSink{w: w, opts: opts}
}

func (s *ConsoleSink) Emit(snap *stats.Snapshot) error {
	var b strings.Builder

	fmt.Fprintf(&b, "-- interval %d (%s, %s elapsed)",
		snap.Interval, snap.Timestamp.Format("2006-01-02 15:04:05"), snap.Elapsed.Truncate(1e6))
	if snap.Unreliable() {
		b.WriteString(" [unreliable: capture drops detected]")
	}
	b.WriteString(" --\n")

	for code := codec.Code(0); code <= codec.MaxCode; code++ {
		ex := &snap.Exchange[code]
		fw := &snap.Forward[code]
		if !active(ex) && !active(fw) && !(s.opts.Cumulative && snap.Gauge[code] > 0) {
			continue
		}
		fmt.Fprintf(&b, "%-20s seen %d\n", code.String()+":", snap.Gauge[code])
		writeLatency(&b, "exchange", ex)
		writeLatency(&b, "forward", fw)
	}

	_, err := io.WriteString(s.w, b.String())
	return err
}

func (s *ConsoleSink) Close() error { return nil }

func active(l *stats.Latency) bool {
	iv := &l.Interval
	if iv.Linked+iv.Unlinked+iv.Reused+iv.Lost > 0 {
		return true
	}
	for _, n := range iv.RT {
		if n > 0 {
			return true
		}
	}
	return false
}

func writeLatency(b *strings.Builder, label string, l *stats.Latency) {
	if !active(l) {
		return
	}
	iv := &l.Interval
	fmt.Fprintf(b, "    %-9s linked %d, unlinked %d, reused %d, lost %d\n",
		label+":", iv.Linked, iv.Unlinked, iv.Reused, iv.Lost)
	if iv.Linked > 0 {
		fmt.Fprintf(b, "    %-9s avg %.4fs, high %.4fs, low %.4fs, cma %.4fs/%d\n",
			"latency:", iv.LatencyAverage, iv.LatencyHigh, iv.LatencyLow, l.CMA, l.CMACount)
	}
	if rt := formatRT(iv.RT); rt != "" {
		fmt.Fprintf(b, "    %-9s %s\n", "rt:", rt)
	}
}

func formatRT(rt [stats.MaxRetransmits + 1]uint64) string {
	parts := make([]string, 0, len(rt))
	for i, n := range rt {
		if n == 0 {
			continue
		}
		if i == stats.MaxRetransmits {
			parts = append(parts, fmt.Sprintf("%d+:%d", i, n))
		} else {
			parts = append(parts, fmt.Sprintf("%d:%d", i, n))
		}
	}
	return strings.Join(parts, " ")
}
