package models

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	// MaxCredentialLen is the most bytes kept for a username or password.
	// The backing arrays carry one extra byte for the NUL terminator.
	MaxCredentialLen = 63

	// AuthEventSize is the size of the binary form produced by MarshalBinary.
	AuthEventSize = 160
)

// AuthEvent is one captured SOCKS5 username/password sub-negotiation.
//
// IPs and ports are stored in host byte order. UsernameLen and PasswordLen
// are the lengths declared on the wire; the arrays are NUL terminated for
// consumers that want C strings, but the length fields are authoritative.
// Timestamp is CLOCK_MONOTONIC nanoseconds, not wall-clock time.
type AuthEvent struct {
	PID         uint32
	SrcIP       uint32
	DstIP       uint32
	SrcPort     uint16
	DstPort     uint16
	Username    [MaxCredentialLen + 1]byte
	Password    [MaxCredentialLen + 1]byte
	UsernameLen uint8
	PasswordLen uint8
	Timestamp   uint64
}

// binary layout, matching the natural alignment of the equivalent C struct
const (
	offPID         = 0
	offSrcIP       = 4
	offDstIP       = 8
	offSrcPort     = 12
	offDstPort     = 14
	offUsername    = 16
	offPassword    = offUsername + MaxCredentialLen + 1
	offUsernameLen = offPassword + MaxCredentialLen + 1
	offPasswordLen = offUsernameLen + 1
	offTimestamp   = 152
)

// Key returns the session table key for the event's flow.
func (e *AuthEvent) Key() FlowKey {
	return MakeFlowKey(e.SrcIP, e.SrcPort, e.DstPort)
}

// UsernameString returns the username bytes as a string.
func (e *AuthEvent) UsernameString() string {
	return string(e.Username[:clampLen(e.UsernameLen)])
}

// PasswordString returns the password bytes as a string.
func (e *AuthEvent) PasswordString() string {
	return string(e.Password[:clampLen(e.PasswordLen)])
}

func clampLen(n uint8) int {
	if int(n) > MaxCredentialLen {
		return MaxCredentialLen
	}
	return int(n)
}

// MarshalBinary encodes the event in host byte order using the layout
// pid:u32 src_ip:u32 dst_ip:u32 src_port:u16 dst_port:u16 username:[64]
// password:[64] username_len:u8 password_len:u8 pad:[6] timestamp:u64.
func (e *AuthEvent) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AuthEventSize)
	ne := binary.NativeEndian
	ne.PutUint32(buf[offPID:], e.PID)
	ne.PutUint32(buf[offSrcIP:], e.SrcIP)
	ne.PutUint32(buf[offDstIP:], e.DstIP)
	ne.PutUint16(buf[offSrcPort:], e.SrcPort)
	ne.PutUint16(buf[offDstPort:], e.DstPort)
	copy(buf[offUsername:offPassword], e.Username[:])
	copy(buf[offPassword:offUsernameLen], e.Password[:])
	buf[offUsernameLen] = e.UsernameLen
	buf[offPasswordLen] = e.PasswordLen
	ne.PutUint64(buf[offTimestamp:], e.Timestamp)
	return buf, nil
}

// UnmarshalBinary decodes the form written by MarshalBinary.
func (e *AuthEvent) UnmarshalBinary(data []byte) error {
	if len(data) < AuthEventSize {
		return fmt.Errorf("auth event: need %d bytes, have %d", AuthEventSize, len(data))
	}
	ne := binary.NativeEndian
	e.PID = ne.Uint32(data[offPID:])
	e.SrcIP = ne.Uint32(data[offSrcIP:])
	e.DstIP = ne.Uint32(data[offDstIP:])
	e.SrcPort = ne.Uint16(data[offSrcPort:])
	e.DstPort = ne.Uint16(data[offDstPort:])
	copy(e.Username[:], data[offUsername:offPassword])
	copy(e.Password[:], data[offPassword:offUsernameLen])
	e.UsernameLen = data[offUsernameLen]
	e.PasswordLen = data[offPasswordLen]
	e.Timestamp = ne.Uint64(data[offTimestamp:])
	return nil
}

// FlowKey packs (src_ip, src_port, dst_port) as src_ip<<32 | src_port<<16 | dst_port.
type FlowKey uint64

// MakeFlowKey builds the session table key for a flow.
func MakeFlowKey(srcIP uint32, srcPort, dstPort uint16) FlowKey {
	return FlowKey(uint64(srcIP)<<32 | uint64(srcPort)<<16 | uint64(dstPort))
}

func (k FlowKey) SrcIP() uint32   { return uint32(k >> 32) }
func (k FlowKey) SrcPort() uint16 { return uint16(k >> 16) }
func (k FlowKey) DstPort() uint16 { return uint16(k) }

// String returns a human-readable description of the key.
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->:%d", IPv4String(k.SrcIP()), k.SrcPort(), k.DstPort())
}

// IPv4String formats a host-order IPv4 address.
func IPv4String(ip uint32) string {
	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}).String()
}

// AuthEventView is the JSON form of an AuthEvent sent to consumers.
type AuthEventView struct {
	FlowKey     uint64 `json:"flowKey"`
	PID         uint32 `json:"pid"`
	SrcAddr     string `json:"srcAddr"`
	DstAddr     string `json:"dstAddr"`
	SrcPort     uint16 `json:"srcPort"`
	DstPort     uint16 `json:"dstPort"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UsernameLen uint8  `json:"usernameLen"`
	PasswordLen uint8  `json:"passwordLen"`
	Timestamp   uint64 `json:"timestamp"`
}

// View converts the event into its JSON form.
func (e *AuthEvent) View() AuthEventView {
	return AuthEventView{
		FlowKey:     uint64(e.Key()),
		PID:         e.PID,
		SrcAddr:     IPv4String(e.SrcIP),
		DstAddr:     IPv4String(e.DstIP),
		SrcPort:     e.SrcPort,
		DstPort:     e.DstPort,
		Username:    e.UsernameString(),
		Password:    e.PasswordString(),
		UsernameLen: e.UsernameLen,
		PasswordLen: e.PasswordLen,
		Timestamp:   e.Timestamp,
	}
}
