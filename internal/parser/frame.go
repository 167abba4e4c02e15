package parser

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

// Fixed header sizes. IPv4 and TCP sizes are the option-less minimums.
const (
	EthernetHeaderLen = 14
	IPv4HeaderLen     = 20
	TCPHeaderLen      = 20
)

// Frame is the result of classifying one Ethernet frame as IPv4/TCP.
// Addresses and ports are in host byte order. Payload aliases the frame
// and is only valid while the frame is.
type Frame struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Classify validates the Ethernet, IPv4 and TCP headers of data.
//
// Every offset is checked against len(data) before it is read. The IPv4
// header length is trusted as declared; options are skipped without being
// looked at. Anything that is not IPv4 carrying TCP is NotTargetTraffic.
func Classify(data []byte) (Frame, Reason) {
	var f Frame
	end := len(data)

	if end < EthernetHeaderLen {
		return f, StructuralInvalid
	}
	if layers.EthernetType(binary.BigEndian.Uint16(data[12:14])) != layers.EthernetTypeIPv4 {
		return f, NotTargetTraffic
	}

	ipStart := EthernetHeaderLen
	if ipStart+IPv4HeaderLen > end {
		return f, StructuralInvalid
	}
	ip := data[ipStart : ipStart+IPv4HeaderLen]
	if layers.IPProtocol(ip[9]) != layers.IPProtocolTCP {
		return f, NotTargetTraffic
	}

	tcpStart := ipStart + int(ip[0]&0x0f)*4
	if tcpStart+TCPHeaderLen > end {
		return f, StructuralInvalid
	}
	tcp := data[tcpStart : tcpStart+TCPHeaderLen]

	payloadStart := tcpStart + int(tcp[12]>>4)*4
	if payloadStart > end {
		return f, StructuralInvalid
	}

	f.SrcIP = binary.BigEndian.Uint32(ip[12:16])
	f.DstIP = binary.BigEndian.Uint32(ip[16:20])
	f.SrcPort = binary.BigEndian.Uint16(tcp[0:2])
	f.DstPort = binary.BigEndian.Uint16(tcp[2:4])
	f.Payload = data[payloadStart:end]
	return f, Matched
}
