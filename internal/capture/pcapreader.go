package capture

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// PcapReader replays an Ethernet capture file.
type PcapReader struct {
	handle *pcap.Handle
}

// NewPcapReader opens path for reading.
func NewPcapReader(path string) (*PcapReader, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	if err := requireEthernet(handle, path); err != nil {
		return nil, err
	}
	return &PcapReader{handle: handle}, nil
}

// Packets iterates the frames in the file.
func (pr *PcapReader) Packets() *gopacket.PacketSource { return rawSource(pr.handle) }

// Close releases the handle.
func (pr *PcapReader) Close() { pr.handle.Close() }
