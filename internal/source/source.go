// Package source implements capture streams: pcap files, live pcap
// devices and afpacket sockets. Every stream yields decoded packet
// envelopes through a non-blocking Poll.
package source

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/strix/internal/codec"
)

// Packet is one captured RADIUS packet, decoded far enough for
// correlation. It is owned by the correlator call that processes it.
type Packet struct {
	Data      []byte
	Timestamp time.Time
	Source    string

	Src netip.AddrPort
	Dst netip.AddrPort

	Fields *codec.Fields
}

// Source is one capture stream. Poll never blocks beyond the handle's
// configured read timeout; it returns (nil, nil) when no packet is
// ready. Exhausted reports that a finite source has no further data.
type Source interface {
	Name() string
	Poll() (*Packet, error)
	Exhausted() bool
	// Drops returns the kernel drop counter, or ok=false when the
	// stream has no such counter (files).
	Drops() (uint64, bool)
	Close() error
}

var errNotRadius = errors.New("not an IPv4/IPv6 UDP RADIUS packet")

// decodeEnvelope turns one raw frame into a Packet. Frames that are not
// UDP or whose payload does not parse as RADIUS yield an error; callers
// drop them packet by packet, never failing the stream.
func decodeEnvelope(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo, name string, dec *codec.Decoder) (*Packet, error) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, errNotRadius
	}
	udp := udpLayer.(*layers.UDP)

	var srcIP, dstIP netip.Addr
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		v4 := ip4.(*layers.IPv4)
		srcIP, _ = netip.AddrFromSlice(v4.SrcIP.To4())
		dstIP, _ = netip.AddrFromSlice(v4.DstIP.To4())
	} else if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		v6 := ip6.(*layers.IPv6)
		srcIP, _ = netip.AddrFromSlice(v6.SrcIP)
		dstIP, _ = netip.AddrFromSlice(v6.DstIP)
	} else {
		return nil, errNotRadius
	}

	fields, err := dec.Decode(udp.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload decode: %w", err)
	}

	return &Packet{
		Data:      data,
		Timestamp: ci.Timestamp,
		Source:    name,
		Src:       netip.AddrPortFrom(srcIP, uint16(udp.SrcPort)),
		Dst:       netip.AddrPortFrom(dstIP, uint16(udp.DstPort)),
		Fields:    fields,
	}, nil
}

// FilterFromPorts builds the default capture filter for the given UDP
// ports, e.g. "udp port 1812 or udp port 1813".
func FilterFromPorts(ports []int) string {
	filter := ""
	for i, p := range ports {
		if i > 0 {
			filter += " or "
		}
		filter += fmt.Sprintf("udp port %d", p)
	}
	return filter
}
