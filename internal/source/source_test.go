package source

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"

	"firestige.xyz/strix/internal/codec"
)

const testSecret = "testing123"

func accessRequestPayload(t *testing.T, id uint8) []byte {
	t.Helper()
	pkt := radius.New(radius.CodeAccessRequest, []byte(testSecret))
	pkt.Identifier = id
	require.NoError(t, rfc2865.UserName_SetString(pkt, "alice"))
	b, err := pkt.Encode()
	require.NoError(t, err)
	return b
}

func udpFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort int, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP),
		DstIP:    net.ParseIP(dstIP),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func captureInfo(frame []byte, ts time.Time) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
}

func TestDecodeEnvelope(t *testing.T) {
	dec := codec.NewDecoder(testSecret, false)
	ts := time.Unix(1700000000, 0)
	frame := udpFrame(t, "192.0.2.10", "192.0.2.1", 51234, 1812, accessRequestPayload(t, 7))

	p, err := decodeEnvelope(frame, layers.LinkTypeEthernet, captureInfo(frame, ts), "test", dec)
	require.NoError(t, err)

	assert.Equal(t, codec.AccessRequest, p.Fields.Code)
	assert.Equal(t, uint8(7), p.Fields.Identifier)
	assert.Equal(t, "192.0.2.10:51234", p.Src.String())
	assert.Equal(t, "192.0.2.1:1812", p.Dst.String())
	assert.Equal(t, ts, p.Timestamp)
	assert.Equal(t, "test", p.Source)
}

func TestDecodeEnvelopeRejectsNonUDP(t *testing.T) {
	dec := codec.NewDecoder(testSecret, false)
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		SourceProtAddress: []byte{192, 0, 2, 10},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{192, 0, 2, 1},
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, arp))

	frame := buf.Bytes()
	_, err := decodeEnvelope(frame, layers.LinkTypeEthernet, captureInfo(frame, time.Now()), "test", dec)
	assert.ErrorIs(t, err, errNotRadius)
}

func TestDecodeEnvelopeRejectsMalformedPayload(t *testing.T) {
	dec := codec.NewDecoder(testSecret, false)
	frame := udpFrame(t, "192.0.2.10", "192.0.2.1", 51234, 1812, []byte{0xff, 0x01})

	_, err := decodeEnvelope(frame, layers.LinkTypeEthernet, captureInfo(frame, time.Now()), "test", dec)
	assert.Error(t, err)
}

func TestFilterFromPorts(t *testing.T) {
	assert.Equal(t, "udp port 1812", FilterFromPorts([]int{1812}))
	assert.Equal(t, "udp port 1812 or udp port 1813", FilterFromPorts([]int{1812, 1813}))
	assert.Equal(t, "", FilterFromPorts(nil))
}
