package parser

import (
	"encoding/binary"
	"testing"

	"github.com/google/gopacket/layers"

	"socksmon/internal/testutil"
)

func buildFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	return testutil.TCPFrame(t, srcPort, dstPort, payload)
}

func userPass(t *testing.T, user, pass string) []byte {
	t.Helper()
	return testutil.UserPass(t, user, pass)
}

// rawFrame assembles a frame by hand so header length fields can be set to
// values a serializer would refuse to produce.
func rawFrame(ihlWords, doffWords int, dstPort uint16, payload []byte) []byte {
	ipLen := ihlWords * 4
	if ipLen < IPv4HeaderLen {
		ipLen = IPv4HeaderLen
	}
	tcpLen := doffWords * 4
	if tcpLen < TCPHeaderLen {
		tcpLen = TCPHeaderLen
	}

	b := make([]byte, EthernetHeaderLen+ipLen+tcpLen, EthernetHeaderLen+ipLen+tcpLen+len(payload))
	binary.BigEndian.PutUint16(b[12:14], uint16(layers.EthernetTypeIPv4))

	ip := b[EthernetHeaderLen:]
	ip[0] = 0x40 | byte(ihlWords&0x0f)
	ip[8] = 64
	ip[9] = byte(layers.IPProtocolTCP)
	copy(ip[12:16], testutil.ClientIP)
	copy(ip[16:20], testutil.ProxyIP)

	tcp := b[EthernetHeaderLen+ipLen:]
	binary.BigEndian.PutUint16(tcp[0:2], 40000)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	tcp[12] = byte(doffWords&0x0f) << 4

	return append(b, payload...)
}
