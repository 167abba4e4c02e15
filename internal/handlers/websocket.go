package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"socksmon/internal/engine"
	"socksmon/internal/events"
	"socksmon/internal/models"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096

	controlBuffer = 64
	eventBuffer   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one websocket consumer. It receives every captured
// credential as an "auth_event" message, or as a binary frame holding the
// AuthEvent wire record when Binary is set, and may drive the engine with
// commands. It implements engine.Client.
type WSClient struct {
	Binary bool

	conn    *websocket.Conn
	eng     *engine.Engine
	sub     *events.Subscription
	control chan models.WSMessage
	done    chan struct{}
}

type command func(c *WSClient, payload json.RawMessage)

var commands = map[string]command{
	"get_interfaces": (*WSClient).getInterfaces,
	"start_capture":  (*WSClient).startCapture,
	"stop_capture":   func(c *WSClient, _ json.RawMessage) { c.eng.StopCapture() },
	"get_stats":      func(c *WSClient, _ json.RawMessage) { c.reply("stats", c.eng.Stats()) },
	"get_sessions":   func(c *WSClient, _ json.RawMessage) { c.reply("sessions", sessionViews(c.eng)) },
}

// NewWSClient registers a client with the engine and subscribes it to the
// event stream. Serve must be called to run it.
func NewWSClient(conn *websocket.Conn, eng *engine.Engine) *WSClient {
	c := &WSClient{
		conn:    conn,
		eng:     eng,
		sub:     eng.Events().Subscribe(eventBuffer),
		control: make(chan models.WSMessage, controlBuffer),
		done:    make(chan struct{}),
	}
	eng.RegisterClient(c)
	return c
}

// SendMessage queues a control message. It never blocks; when the queue
// is full the message is dropped.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case c.control <- msg:
	default:
	}
	return nil
}

// Serve runs the client until the connection fails or the peer goes away.
func (c *WSClient) Serve() {
	go c.writeLoop()
	c.readLoop()
}

// writeLoop is the only writer on conn. Events come straight off the
// subscription, so a slow consumer loses events in the broadcaster and
// never holds up capture.
func (c *WSClient) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case <-c.done:
			return
		case ev, ok := <-c.sub.C:
			if !ok {
				return
			}
			err = c.writeEvent(&ev)
		case msg := <-c.control:
			err = c.write(msg)
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			log.WithError(err).Debug("websocket write failed")
			return
		}
	}
}

func (c *WSClient) writeEvent(ev *models.AuthEvent) error {
	if !c.Binary {
		payload, _ := json.Marshal(ev.View())
		return c.write(models.WSMessage{Type: "auth_event", Payload: payload})
	}
	record, err := ev.MarshalBinary()
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, record)
}

func (c *WSClient) write(msg models.WSMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *WSClient) readLoop() {
	defer func() {
		c.eng.UnregisterClient(c)
		c.sub.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg models.WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.sendError("invalid message format")
				continue
			}
			return
		}
		cmd, ok := commands[msg.Type]
		if !ok {
			c.sendError("unknown command: " + msg.Type)
			continue
		}
		cmd(c, msg.Payload)
	}
}

func (c *WSClient) getInterfaces(json.RawMessage) {
	ifaces, err := c.eng.GetInterfaces()
	if err != nil {
		c.sendError("failed to list interfaces: " + err.Error())
		return
	}
	c.reply("interfaces", ifaces)
}

func (c *WSClient) startCapture(payload json.RawMessage) {
	var req models.StartCaptureRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid start_capture payload")
		return
	}
	if err := c.eng.StartCapture(req); err != nil {
		c.sendError("capture failed: " + err.Error())
	}
}

func (c *WSClient) reply(typ string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendMessage(models.WSMessage{Type: typ, Payload: payload})
}

func (c *WSClient) sendError(message string) {
	payload, _ := json.Marshal(models.ErrorPayload{Message: message})
	c.SendMessage(models.WSMessage{Type: "error", Payload: payload})
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects. With ?format=binary events are sent as binary frames of
// models.AuthEventSize bytes; control replies stay JSON text.
func HandleWebSocket(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		log.WithField("remote", r.RemoteAddr).Debug("websocket client connected")
		c := NewWSClient(conn, eng)
		c.Binary = r.URL.Query().Get("format") == "binary"
		c.Serve()
	}
}
