package capture

import (
	"fmt"
	"strings"

	"golang.org/x/net/bpf"

	"socksmon/internal/parser"
)

// BPFExpression returns the libpcap filter matching IPv4 TCP to the proxy ports.
func BPFExpression() string {
	clauses := make([]string, 0, len(parser.ProxyPorts))
	for _, p := range parser.ProxyPorts {
		clauses = append(clauses, fmt.Sprintf("dst port %d", p))
	}
	return "ip and tcp and (" + strings.Join(clauses, " or ") + ")"
}

// ProxyPortFilter returns a classic BPF program with the same meaning as
// BPFExpression, for attaching to a packet socket. Accepted frames are
// truncated to snapLen bytes.
//
// Offsets assume an Ethernet link layer:
//
//	ldh [12]            ; ethertype
//	jne #0x800, drop
//	ldb [23]            ; ip protocol
//	jne #6, drop
//	ldxb 4*([14]&0xf)   ; ip header length
//	ldh [x+16]          ; tcp dst port
//	jeq #port, accept   ; once per proxy port
//	drop: ret #0
//	accept: ret #snapLen
func ProxyPortFilter(snapLen int) []bpf.Instruction {
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	n := len(parser.ProxyPorts)

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x0800, SkipTrue: uint8(n + 4)},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 6, SkipTrue: uint8(n + 2)},
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 16, Size: 2},
	}
	for i, p := range parser.ProxyPorts {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: uint8(n - i)})
	}
	return append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: uint32(snapLen)},
	)
}
