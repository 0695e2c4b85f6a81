//go:build linux

package source

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/metrics"
)

// AFPacketSource captures from a device through an AF_PACKET v3 ring,
// for hosts where the libpcap live path cannot keep up.
type AFPacketSource struct {
	name      string
	handle    *afpacket.TPacket
	dec       *codec.Decoder
	logger    log.Logger
	frameSize int
}

func OpenAFPacket(device string, bufferSizeMB int, opts LiveOptions, dec *codec.Decoder) (*AFPacketSource, error) {
	opts.applyDefaults()

	frameSize, blockSize, numBlocks, err := ringSizes(bufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open af_packet socket on %s: %w", device, err)
	}

	if opts.Filter != "" {
		raw, err := compileFilter(opts.Filter, frameSize)
		if err != nil {
			handle.Close()
			return nil, err
		}
		if err := handle.SetBPF(raw); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to attach filter on %s: %w", device, err)
		}
	}

	return &AFPacketSource{
		name:      device,
		handle:    handle,
		dec:       dec,
		logger:    log.GetLogger().WithField("source", device),
		frameSize: frameSize,
	}, nil
}

func (s *AFPacketSource) Name() string { return s.name }

func (s *AFPacketSource) Poll() (*Packet, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read packet: %w", err)
	}
	metrics.PacketsTotal.WithLabelValues(s.name).Inc()

	p, err := decodeEnvelope(data, layers.LinkTypeEthernet, ci, s.name, s.dec)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(s.name).Inc()
		s.logger.WithError(err).Debug("dropping undecodable packet")
		return nil, nil
	}
	return p, nil
}

func (s *AFPacketSource) Exhausted() bool { return false }

func (s *AFPacketSource) Drops() (uint64, bool) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return 0, false
	}
	return uint64(v3.Drops()), true
}

func (s *AFPacketSource) Close() error {
	s.handle.Close()
	return nil
}

// compileFilter compiles a pcap filter expression into a raw BPF program
// attachable to an AF_PACKET socket.
func compileFilter(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter: %w", err)
	}
	raw := make([]bpf.RawInstruction, len(pcapBPF))
	for i, ins := range pcapBPF {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// ringSizes derives TPacket ring geometry from a buffer budget in MB.
func ringSizes(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferSizeMB <= 0 {
		bufferSizeMB = 8
	}
	frameSize = pageSize
	for frameSize < snapLen {
		frameSize *= 2
	}
	blockSize = frameSize * 128
	numBlocks = bufferSizeMB * 1024 * 1024 / blockSize
	if numBlocks == 0 {
		return 0, 0, 0, fmt.Errorf("buffer size %dMB too small for block size %d", bufferSizeMB, blockSize)
	}
	return frameSize, blockSize, numBlocks, nil
}
