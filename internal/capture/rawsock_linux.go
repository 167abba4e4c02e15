//go:build linux

package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// RawSocketSupported reports whether NewRawSocket can work on this platform.
const RawSocketSupported = true

// RawSocket is an AF_PACKET socket bound to one interface with
// ProxyPortFilter attached. Frames read from it feed the socket hook.
type RawSocket struct {
	fd       int
	iface    string
	loopback bool
}

// NewRawSocket opens a packet socket on iface. The filter is attached
// before the socket is bound, so no unfiltered frame is ever queued.
func NewRawSocket(iface string, snapLen int) (*RawSocket, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open packet socket: %w", err)
	}

	if err := attachFilter(fd, ProxyPortFilter(snapLen)); err != nil {
		unix.Close(fd)
		return nil, err
	}

	tv := unix.NsecToTimeval(DefaultTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set receive timeout: %w", err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind packet socket to %s: %w", iface, err)
	}

	return &RawSocket{fd: fd, iface: iface, loopback: ifi.Flags&net.FlagLoopback != 0}, nil
}

func attachFilter(fd int, prog []bpf.Instruction) error {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return fmt.Errorf("assemble socket filter: %w", err)
	}
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return fmt.Errorf("attach socket filter: %w", err)
	}
	return nil
}

// ReadPacket reads one frame into buf. It returns ErrTimeout when nothing
// arrived before the receive timeout.
func (rs *RawSocket) ReadPacket(buf []byte) (int, error) {
	for {
		n, from, err := unix.Recvfrom(rs.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return 0, ErrTimeout
			}
			return 0, fmt.Errorf("read packet on %s: %w", rs.iface, err)
		}
		if ll, ok := from.(*unix.SockaddrLinklayer); ok && skipPacket(rs.loopback, ll.Pkttype) {
			continue
		}
		return n, nil
	}
}

// skipPacket reports whether a frame is the outgoing copy of one the
// loopback device also delivers as incoming.
func skipPacket(loopback bool, pkttype uint8) bool {
	return loopback && pkttype == unix.PACKET_OUTGOING
}

// Interface returns the interface name.
func (rs *RawSocket) Interface() string {
	return rs.iface
}

// Stats returns kernel counters since the previous call. Reading
// PACKET_STATISTICS resets them.
func (rs *RawSocket) Stats() (received, dropped int, err error) {
	st, err := unix.GetsockoptTpacketStats(rs.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS)
	if err != nil {
		return 0, 0, fmt.Errorf("packet statistics: %w", err)
	}
	return int(st.Packets), int(st.Drops), nil
}

// Close releases the socket.
func (rs *RawSocket) Close() error {
	return unix.Close(rs.fd)
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}
