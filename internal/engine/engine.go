package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"socksmon/internal/capture"
	"socksmon/internal/events"
	"socksmon/internal/flow"
	"socksmon/internal/inspect"
	"socksmon/internal/models"
)

// Client receives control messages about the capture lifecycle.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// source is the part of a live capture the engine needs after start.
type source interface {
	Interface() string
	Stats() (received, dropped int, err error)
}

// Engine owns the inspection pipeline and the capture session feeding it.
type Engine struct {
	mu        sync.Mutex
	clients   map[Client]bool
	source    source
	closeFn   func()
	stopCh    chan struct{}
	doneCh    chan struct{}
	capturing bool
	starting  bool
	open      opener
	mode      string
	dropped   int

	pktCount atomic.Uint64

	inspector *inspect.Inspector
	sessions  *flow.Table
	events    *events.Broadcaster
	log       *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionCapacity sets the session table size.
func WithSessionCapacity(n int) Option {
	return func(e *Engine) { e.sessions = flow.NewTable(n) }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine with an empty session table and no subscribers.
func New(opts ...Option) *Engine {
	e := &Engine{
		clients:  make(map[Client]bool),
		sessions: flow.NewTable(flow.DefaultCapacity),
		events:   events.NewBroadcaster(),
		log:      logrus.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.open = e.openCapture
	e.inspector = inspect.New(e.events, e.sessions)
	return e
}

// Events returns the broadcaster carrying captured credentials.
func (e *Engine) Events() *events.Broadcaster {
	return e.events
}

// Sessions returns the session table.
func (e *Engine) Sessions() *flow.Table {
	return e.sessions
}

// Inspector returns the pipeline frames are fed into.
func (e *Engine) Inspector() *inspect.Inspector {
	return e.inspector
}

// RegisterClient adds a client to receive lifecycle broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, c)
}

// GetInterfaces returns the interfaces a capture can be started on.
func (e *Engine) GetInterfaces() ([]models.InterfaceInfo, error) {
	return capture.ListInterfaces()
}

// session is an opened capture: where frames come from, how to release
// it, and the loop that reads it until stop is closed.
type session struct {
	src   source
	close func()
	run   func(stop <-chan struct{})
}

type opener func(req models.StartCaptureRequest) (session, error)

// openCapture opens the attachment point named by req.Mode. ModePcap feeds
// the traffic hook from libpcap; ModeSocket feeds the socket hook from a
// packet socket.
func (e *Engine) openCapture(req models.StartCaptureRequest) (session, error) {
	switch req.Mode {
	case models.ModePcap:
		lc, err := capture.NewLiveCapture(req.Interface, capture.BPFExpression(), req.SnapLen)
		if err != nil {
			return session{}, err
		}
		return session{src: lc, close: lc.Close, run: func(stop <-chan struct{}) { e.captureLoop(lc, stop) }}, nil
	case models.ModeSocket:
		rs, err := capture.NewRawSocket(req.Interface, req.SnapLen)
		if err != nil {
			return session{}, err
		}
		return session{
			src:   rs,
			close: func() { _ = rs.Close() },
			run:   func(stop <-chan struct{}) { e.socketLoop(rs, req.SnapLen, stop) },
		}, nil
	}
	return session{}, fmt.Errorf("unknown capture mode %q", req.Mode)
}

// StartCapture attaches to an interface. Only one capture runs at a time;
// the slot is held from the moment the attachment point is being opened.
func (e *Engine) StartCapture(req models.StartCaptureRequest) error {
	if req.Interface == "" {
		return errors.New("no interface given")
	}
	if req.Mode == "" {
		req.Mode = models.ModePcap
	}
	if req.SnapLen <= 0 {
		req.SnapLen = capture.DefaultSnapLen
	}

	e.mu.Lock()
	if e.capturing || e.starting {
		e.mu.Unlock()
		return errors.New("capture already running")
	}
	e.starting = true
	e.mu.Unlock()

	sess, err := e.open(req)
	if err != nil {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		return err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	e.mu.Lock()
	e.starting = false
	e.capturing = true
	e.source = sess.src
	e.closeFn = sess.close
	e.stopCh = stopCh
	e.doneCh = doneCh
	e.mode = req.Mode
	e.dropped = 0
	e.mu.Unlock()
	e.pktCount.Store(0)

	e.log.WithFields(logrus.Fields{
		"interface": req.Interface,
		"mode":      req.Mode,
		"snaplen":   req.SnapLen,
	}).Info("capture started")

	payload, _ := json.Marshal(map[string]string{"interfaceName": req.Interface, "mode": req.Mode})
	e.broadcast(models.WSMessage{Type: "capture_started", Payload: payload})

	go func() {
		defer close(doneCh)
		sess.run(stopCh)
	}()
	return nil
}

// StopCapture stops the active capture and waits for its loop to exit.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return
	}
	e.capturing = false
	stopCh := e.stopCh
	doneCh := e.doneCh
	closeFn := e.closeFn
	e.mu.Unlock()

	e.broadcast(models.WSMessage{Type: "capture_stopped"})

	close(stopCh)
	<-doneCh
	closeFn()

	e.log.WithField("packets", e.pktCount.Load()).Info("capture stopped")
}

// LoadPcapFile replays a capture file through the traffic hook and
// returns the number of frames inspected.
func (e *Engine) LoadPcapFile(ctx context.Context, path string) (int, error) {
	reader, err := capture.NewPcapReader(path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	source := reader.Packets()
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		pkt, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read %q: %w", path, err)
		}
		n++
		e.pktCount.Add(1)
		e.inspector.TrafficHook(pkt.Data())
	}

	e.log.WithFields(logrus.Fields{"file": path, "packets": n}).Info("pcap replay finished")
	return n, nil
}

func (e *Engine) captureLoop(lc *capture.LiveCapture, stopCh <-chan struct{}) {
	source := lc.Packets()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		pkt, err := source.NextPacket()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if errors.Is(err, io.EOF) {
				e.log.WithField("interface", lc.Interface()).Warn("capture source closed")
				return
			}
			e.log.WithError(err).Debug("packet read error")
			continue
		}

		e.pktCount.Add(1)
		e.inspector.TrafficHook(pkt.Data())
	}
}

func (e *Engine) socketLoop(rs *capture.RawSocket, snapLen int, stopCh <-chan struct{}) {
	buf := make([]byte, snapLen)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := rs.ReadPacket(buf)
		if errors.Is(err, capture.ErrTimeout) {
			continue
		}
		if err != nil {
			e.log.WithError(err).Error("packet socket read failed")
			return
		}

		e.pktCount.Add(1)
		e.inspector.SocketHook(buf[:n])
	}
}

// Stats returns a snapshot of capture and pipeline counters.
func (e *Engine) Stats() models.CaptureStats {
	e.mu.Lock()
	st := models.CaptureStats{
		Mode:      e.mode,
		Capturing: e.capturing,
	}
	if e.capturing && e.source != nil {
		st.InterfaceName = e.source.Interface()
		if _, dropped, err := e.source.Stats(); err == nil {
			if e.mode == models.ModeSocket {
				e.dropped += dropped
			} else {
				e.dropped = dropped
			}
		}
	}
	st.DroppedCount = e.dropped
	e.mu.Unlock()

	st.PacketCount = e.pktCount.Load()
	st.EventCount, st.EventDrops = e.events.Stats()
	st.SessionCount = e.sessions.Len()
	st.SessionEvictions = e.sessions.Evicted()
	return st
}

// ReportStats logs Stats every interval until ctx is done.
func (e *Engine) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := e.Stats()
			e.log.WithFields(logrus.Fields{
				"capturing": st.Capturing,
				"interface": st.InterfaceName,
				"packets":   st.PacketCount,
				"dropped":   st.DroppedCount,
				"events":    st.EventCount,
				"evdrops":   st.EventDrops,
				"sessions":  st.SessionCount,
				"evictions": st.SessionEvictions,
			}).Info("status")
		}
	}
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.mu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}
