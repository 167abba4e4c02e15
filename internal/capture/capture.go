// Package capture attaches the inspector to a host: libpcap on an
// interface or a capture file for the traffic hook, and a packet socket
// with a kernel prefilter for the socket hook.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"socksmon/internal/models"
)

const (
	DefaultSnapLen = 65535
	DefaultTimeout = 100 * time.Millisecond
)

// ListInterfaces returns the interfaces libpcap can open.
func ListInterfaces() ([]models.InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]models.InterfaceInfo, 0, len(devs))
	for _, d := range devs {
		addrs := make([]string, 0, len(d.Addresses))
		for _, a := range d.Addresses {
			addrs = append(addrs, a.IP.String())
		}
		out = append(out, models.InterfaceInfo{Name: d.Name, Description: d.Description, Addresses: addrs})
	}
	return out, nil
}

// LiveCapture reads frames from one interface for the traffic hook.
type LiveCapture struct {
	handle *pcap.Handle
	iface  string
}

// NewLiveCapture opens iface in promiscuous mode and installs filter.
// An empty filter passes every frame.
func NewLiveCapture(iface, filter string, snapLen int) (*LiveCapture, error) {
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	handle, err := pcap.OpenLive(iface, int32(snapLen), true, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	if err := requireEthernet(handle, iface); err != nil {
		return nil, err
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%s: filter %q: %w", iface, filter, err)
		}
	}
	return &LiveCapture{handle: handle, iface: iface}, nil
}

// Packets iterates the captured frames.
func (lc *LiveCapture) Packets() *gopacket.PacketSource { return rawSource(lc.handle) }

// Interface returns the interface name.
func (lc *LiveCapture) Interface() string { return lc.iface }

// Stats returns the kernel's received and dropped counters.
func (lc *LiveCapture) Stats() (received, dropped int, err error) {
	st, err := lc.handle.Stats()
	if err != nil {
		return 0, 0, fmt.Errorf("%s: stats: %w", lc.iface, err)
	}
	return st.PacketsReceived, st.PacketsDropped, nil
}

// Close releases the handle.
func (lc *LiveCapture) Close() { lc.handle.Close() }

// requireEthernet closes handle and fails unless it yields Ethernet
// frames, the only framing the classifier understands.
func requireEthernet(handle *pcap.Handle, name string) error {
	if lt := handle.LinkType(); lt != layers.LinkTypeEthernet {
		handle.Close()
		return fmt.Errorf("%s: link type %s is not ethernet", name, lt)
	}
	return nil
}

// rawSource skips decoding; the inspector only reads pkt.Data().
func rawSource(handle *pcap.Handle) *gopacket.PacketSource {
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return src
}
