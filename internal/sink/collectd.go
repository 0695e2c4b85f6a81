package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"collectd.org/api"
	"collectd.org/network"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/stats"
)

const collectdName = "collectd"

// emitBudget bounds how long one snapshot dispatch may hold the loop.
const emitBudget = 500 * time.Millisecond

func init() {
	Register(collectdName, func(opts map[string]interface{}) (Sink, error) {
		var o collectdOptions
		if err := mapstructure.Decode(opts, &o); err != nil {
			return nil, err
		}
		return DialCollectd(o)
	})
}

type collectdOptions struct {
	Address string `mapstructure:"address"`
	Prefix  string `mapstructure:"prefix"`
	Host    string `mapstructure:"host"`
}

// CollectdSink pushes snapshot values to a collectd server over its
// binary network protocol.
type CollectdSink struct {
	client *network.Client
	plugin string
	host   string
}

func DialCollectd(opts collectdOptions) (*CollectdSink, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("collectd sink requires an address")
	}
	if opts.Prefix == "" {
		opts.Prefix = "strix"
	}
	if opts.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve local hostname: %w", err)
		}
		opts.Host = hostname
	}

	client, err := network.Dial(opts.Address, network.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to dial collectd at %s: %w", opts.Address, err)
	}
	return &CollectdSink{client: client, plugin: opts.Prefix, host: opts.Host}, nil
}

func (s *CollectdSink) Emit(snap *stats.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), emitBudget)
	defer cancel()

	for code := codec.Code(0); code <= codec.MaxCode; code++ {
		if err := s.emitLatency(ctx, snap, "exchange", code, &snap.Exchange[code]); err != nil {
			return err
		}
		if err := s.emitLatency(ctx, snap, "forward", code, &snap.Forward[code]); err != nil {
			return err
		}
	}
	return s.client.Flush()
}

func (s *CollectdSink) emitLatency(ctx context.Context, snap *stats.Snapshot, dir string, code codec.Code, l *stats.Latency) error {
	if !active(l) {
		return nil
	}
	instance := dir + "-" + code.String()
	iv := &l.Interval

	values := []struct {
		typeInstance string
		value        api.Value
	}{
		{"linked", api.Gauge(float64(iv.Linked))},
		{"unlinked", api.Gauge(float64(iv.Unlinked))},
		{"reused", api.Gauge(float64(iv.Reused))},
		{"lost", api.Gauge(float64(iv.Lost))},
		{"latency-avg", api.Gauge(iv.LatencyAverage)},
		{"latency-high", api.Gauge(iv.LatencyHigh)},
		{"latency-low", api.Gauge(iv.LatencyLow)},
		{"latency-cma", api.Gauge(l.CMA)},
	}
	for i, n := range iv.RT {
		values = append(values, struct {
			typeInstance string
			value        api.Value
		}{fmt.Sprintf("rt-%d", i), api.Gauge(float64(n))})
	}

	for _, v := range values {
		vl := &api.ValueList{
			Identifier: api.Identifier{
				Host:           s.host,
				Plugin:         s.plugin,
				PluginInstance: instance,
				Type:           "gauge",
				TypeInstance:   v.typeInstance,
			},
			Time:     snap.Timestamp,
			Interval: snap.Elapsed,
			Values:   []api.Value{v.value},
		}
		if err := s.client.Write(ctx, vl); err != nil {
			return fmt.Errorf("collectd write: %w", err)
		}
	}
	return nil
}

func (s *CollectdSink) Close() error {
	return s.client.Close()
}
