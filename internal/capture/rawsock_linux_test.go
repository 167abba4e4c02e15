//go:build linux

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestSkipPacket(t *testing.T) {
	tests := []struct {
		name     string
		loopback bool
		pkttype  uint8
		want     bool
	}{
		{name: "loopback outgoing", loopback: true, pkttype: unix.PACKET_OUTGOING, want: true},
		{name: "loopback incoming", loopback: true, pkttype: unix.PACKET_HOST},
		{name: "ethernet outgoing", pkttype: unix.PACKET_OUTGOING},
		{name: "ethernet incoming", pkttype: unix.PACKET_HOST},
		{name: "ethernet other host", pkttype: unix.PACKET_OTHERHOST},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, skipPacket(tt.loopback, tt.pkttype))
		})
	}
}
