package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/metrics"
)

// LiveOptions configures a live capture stream.
type LiveOptions struct {
	SnapLen     int
	Promiscuous bool
	Filter      string
	// ReadTimeout bounds how long Poll may block when no packet is
	// queued; it is the fairness floor of the scheduler loop.
	ReadTimeout time.Duration
}

func (o *LiveOptions) applyDefaults() {
	if o.SnapLen <= 0 {
		o.SnapLen = 65535
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Millisecond
	}
}

// LiveSource captures from a network device via libpcap.
type LiveSource struct {
	name   string
	handle *pcap.Handle
	dec    *codec.Decoder
	logger log.Logger
}

func OpenLive(device string, opts LiveOptions, dec *codec.Decoder) (*LiveSource, error) {
	opts.applyDefaults()

	handle, err := pcap.OpenLive(device, int32(opts.SnapLen), opts.Promiscuous, opts.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", device, err)
	}
	if opts.Filter != "" {
		if err := handle.SetBPFFilter(opts.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set filter on %s: %w", device, err)
		}
	}
	return &LiveSource{
		name:   device,
		handle: handle,
		dec:    dec,
		logger: log.GetLogger().WithField("source", device),
	}, nil
}

func (s *LiveSource) Name() string { return s.name }

func (s *LiveSource) Poll() (*Packet, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read packet: %w", err)
	}
	metrics.PacketsTotal.WithLabelValues(s.name).Inc()

	p, err := decodeEnvelope(data, s.handle.LinkType(), ci, s.name, s.dec)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(s.name).Inc()
		s.logger.WithError(err).Debug("dropping undecodable packet")
		return nil, nil
	}
	return p, nil
}

// Exhausted is always false: a live device never runs out of data.
func (s *LiveSource) Exhausted() bool { return false }

func (s *LiveSource) Drops() (uint64, bool) {
	st, err := s.handle.Stats()
	if err != nil {
		return 0, false
	}
	return uint64(st.PacketsDropped) + uint64(st.PacketsIfDropped), true
}

func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
