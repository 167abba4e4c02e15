package testutil

import (
	"bytes"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	txsocks5 "github.com/txthinking/socks5"
)

var (
	ClientIP = net.IPv4(10, 0, 0, 2).To4()
	ProxyIP  = net.IPv4(10, 0, 0, 1).To4()
)

// TCPFrame serializes Ethernet/IPv4/TCP from ClientIP to ProxyIP around payload.
func TCPFrame(t testing.TB, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	return TCPFrameFrom(t, ClientIP, srcPort, dstPort, payload)
}

// TCPFrameFrom is TCPFrame with an explicit source address.
func TCPFrameFrom(t testing.TB, srcIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	ip := ipv4(srcIP, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

// UDPFrame serializes Ethernet/IPv4/UDP around payload.
func UDPFrame(t testing.TB, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	ip := ipv4(ClientIP, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

// IPv6TCPFrame serializes Ethernet/IPv6/TCP around payload.
func IPv6TCPFrame(t testing.TB, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP("fd00::2"),
		DstIP:      net.ParseIP("fd00::1"),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), ACK: true}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, ethernet(layers.EthernetTypeIPv6), ip, tcp, gopacket.Payload(payload))
}

// UserPass encodes a SOCKS5 username/password request as a client sends it.
func UserPass(t testing.TB, user, pass string) []byte {
	t.Helper()

	var b bytes.Buffer
	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(user), []byte(pass)).WriteTo(&b); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func ethernet(typ layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		EthernetType: typ,
	}
}

func ipv4(src net.IP, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    src.To4(),
		DstIP:    ProxyIP,
	}
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
