// Package output implements the optional secondary sink that writes
// accepted packets back out to a capture file.
package output

import (
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/strix/internal/source"
)

// Writer appends accepted packets to a pcap file.
type Writer struct {
	f *os.File
	w *pcapgo.Writer
}

func Open(path string, snapLen int) (*Writer, error) {
	if snapLen <= 0 {
		snapLen = 65535
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{f: f, w: w}, nil
}

func (w *Writer) WritePacket(p *source.Packet) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     p.Timestamp,
		CaptureLength: len(p.Data),
		Length:        len(p.Data),
	}
	return w.w.WritePacket(ci, p.Data)
}

func (w *Writer) Close() error {
	return w.f.Close()
}
