package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/metrics"
)

// FileSource replays a pcap capture file. It is always ready until the
// file is exhausted.
type FileSource struct {
	name      string
	handle    *pcap.Handle
	dec       *codec.Decoder
	logger    log.Logger
	exhausted bool
}

func OpenFile(path, filter string, dec *codec.Decoder) (*FileSource, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set filter on %s: %w", path, err)
		}
	}
	return &FileSource{
		name:   path,
		handle: handle,
		dec:    dec,
		logger: log.GetLogger().WithField("source", path),
	}, nil
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Poll() (*Packet, error) {
	if s.exhausted {
		return nil, nil
	}
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.exhausted = true
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

func (s *FileSource) Exhausted() bool { return s.exhausted }

func (s *FileSource) Drops() (uint64, bool) { return 0, false }

func (s *FileSource) Close() error {
	s.handle.Close()
	return nil
}
