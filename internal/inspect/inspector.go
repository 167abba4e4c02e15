// Package inspect runs the per-packet pipeline: classify, filter on the
// proxy port, decode the SOCKS5 username/password request, then emit the
// result and record it in the session table.
//
// Every frame gets VerdictPass. Frames that do not carry credentials leave
// no trace; there is no error path.
package inspect

import (
	"os"

	"socksmon/internal/models"
	"socksmon/internal/parser"
)

// Verdict is the action requested for an inspected packet.
type Verdict int

// VerdictPass leaves the packet untouched. It is the only verdict.
const VerdictPass Verdict = 0

// Emitter receives each captured event. It must not block.
type Emitter interface {
	Emit(ev models.AuthEvent)
}

// SessionStore records the latest event per flow.
type SessionStore interface {
	Upsert(key models.FlowKey, ev models.AuthEvent)
}

// Inspector turns frames into AuthEvents.
type Inspector struct {
	emitter  Emitter
	sessions SessionStore
	pid      uint32
	clock    func() uint64
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithClock replaces the monotonic nanosecond clock.
func WithClock(clock func() uint64) Option {
	return func(in *Inspector) { in.clock = clock }
}

// WithPID overrides the process id stamped on events.
func WithPID(pid uint32) Option {
	return func(in *Inspector) { in.pid = pid }
}

// New creates an Inspector that delivers to emitter and records into sessions.
// Either may be nil.
func New(emitter Emitter, sessions SessionStore, opts ...Option) *Inspector {
	in := &Inspector{
		emitter:  emitter,
		sessions: sessions,
		pid:      uint32(os.Getpid()),
		clock:    MonotonicNow,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// TrafficHook inspects a frame seen on an interface capture.
func (in *Inspector) TrafficHook(frame []byte) Verdict {
	return in.Inspect(frame)
}

// SocketHook inspects a frame copied to a packet socket.
func (in *Inspector) SocketHook(frame []byte) Verdict {
	return in.Inspect(frame)
}

// Inspect runs the pipeline over one frame. The frame is not retained.
func (in *Inspector) Inspect(frame []byte) (v Verdict) {
	defer func() {
		if recover() != nil {
			v = VerdictPass
		}
	}()

	c, r := parser.Parse(frame)
	if r != parser.Matched {
		return VerdictPass
	}

	ev := models.AuthEvent{
		PID:         in.pid,
		SrcIP:       c.SrcIP,
		DstIP:       c.DstIP,
		SrcPort:     c.SrcPort,
		DstPort:     c.DstPort,
		Username:    c.Username,
		Password:    c.Password,
		UsernameLen: c.UsernameLen,
		PasswordLen: c.PasswordLen,
		Timestamp:   in.clock(),
	}

	if in.emitter != nil {
		in.emitter.Emit(ev)
	}
	if in.sessions != nil {
		in.sessions.Upsert(ev.Key(), ev)
	}
	return VerdictPass
}
