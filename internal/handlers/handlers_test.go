package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socksmon/internal/engine"
	"socksmon/internal/models"
	"socksmon/internal/testutil"
)

func newServer(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()

	eng := engine.New()
	mux := http.NewServeMux()
	RegisterRoutes(mux, eng)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return eng, srv
}

func TestSessionsEndpoint(t *testing.T) {
	eng, srv := newServer(t)

	in := eng.Inspector()
	in.TrafficHook(testutil.TCPFrame(t, 40001, 1080, testutil.UserPass(t, "bob", "xyz")))
	in.TrafficHook(testutil.TCPFrame(t, 40000, 8080, testutil.UserPass(t, "alice", "secret")))

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got []models.AuthEventView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, "secret", got[0].Password)
	assert.Equal(t, "10.0.0.2", got[0].SrcAddr)
	assert.Equal(t, "10.0.0.1", got[0].DstAddr)
	assert.Equal(t, uint16(8080), got[0].DstPort)
	assert.Equal(t, "bob", got[1].Username)
	assert.Equal(t, uint64(models.MakeFlowKey(0x0a000002, 40001, 1080)), got[1].FlowKey)
}

func TestStatsEndpoint(t *testing.T) {
	eng, srv := newServer(t)
	eng.Inspector().TrafficHook(testutil.TCPFrame(t, 40000, 1080, testutil.UserPass(t, "bob", "xyz")))

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st models.CaptureStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, uint64(1), st.EventCount)
	assert.Equal(t, 1, st.SessionCount)
	assert.False(t, st.Capturing)
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv := newServer(t)

	for _, path := range []string{"/api/sessions", "/api/stats"} {
		resp, err := http.Post(srv.URL+path, "text/plain", strings.NewReader("x"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/api/upload")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func pcapUpload(t *testing.T, frames ...[]byte) (*bytes.Buffer, string) {
	t.Helper()

	var capture bytes.Buffer
	w := pcapgo.NewWriter(&capture)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "capture.pcap")
	require.NoError(t, err)
	_, err = part.Write(capture.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestUploadReplaysCapture(t *testing.T) {
	eng, srv := newServer(t)
	body, contentType := pcapUpload(t,
		testutil.TCPFrame(t, 40000, 7890, testutil.UserPass(t, "carol", "pw")),
		testutil.TCPFrame(t, 40001, 22, []byte("SSH-2.0-OpenSSH_9.6\r\n")),
	)

	resp, err := http.Post(srv.URL+"/api/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got["packets"])

	ev, ok := eng.Sessions().Lookup(models.MakeFlowKey(0x0a000002, 40000, 7890))
	require.True(t, ok)
	assert.Equal(t, "carol", ev.UsernameString())
}

func TestUploadMissingFile(t *testing.T) {
	_, srv := newServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server, query ...string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if len(query) > 0 {
		url += "?" + strings.Join(query, "&")
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, typ string) models.WSMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg models.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	eng, srv := newServer(t)
	conn := dialWS(t, srv)

	require.Eventually(t, func() bool { return eng.Events().Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	eng.Inspector().SocketHook(testutil.TCPFrame(t, 40000, 1080, []byte{0x01, 0x03, 'b', 'o', 'b', 0x03, 'x', 'y', 'z'}))

	msg := readMessage(t, conn, "auth_event")
	var ev models.AuthEventView
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, "bob", ev.Username)
	assert.Equal(t, "xyz", ev.Password)
	assert.Equal(t, uint8(3), ev.UsernameLen)
	assert.Equal(t, uint8(3), ev.PasswordLen)
}

func TestWebSocketBinaryEvents(t *testing.T) {
	eng, srv := newServer(t)
	conn := dialWS(t, srv, "format=binary")

	require.Eventually(t, func() bool { return eng.Events().Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	eng.Inspector().TrafficHook(testutil.TCPFrame(t, 40000, 1081, testutil.UserPass(t, "bob", "xyz")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, typ)
	require.Len(t, data, models.AuthEventSize)

	var ev models.AuthEvent
	require.NoError(t, ev.UnmarshalBinary(data))
	assert.Equal(t, "bob", ev.UsernameString())
	assert.Equal(t, "xyz", ev.PasswordString())
	assert.Equal(t, uint16(1081), ev.DstPort)
	assert.Equal(t, models.MakeFlowKey(0x0a000002, 40000, 1081), ev.Key())

	require.NoError(t, conn.WriteJSON(models.WSMessage{Type: "get_stats"}))
	msg := readMessage(t, conn, "stats")
	assert.NotEmpty(t, msg.Payload)
}

func TestWebSocketCommands(t *testing.T) {
	eng, srv := newServer(t)
	eng.Inspector().TrafficHook(testutil.TCPFrame(t, 40000, 1080, testutil.UserPass(t, "bob", "xyz")))
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(models.WSMessage{Type: "get_sessions"}))
	msg := readMessage(t, conn, "sessions")
	var sessions []models.AuthEventView
	require.NoError(t, json.Unmarshal(msg.Payload, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "bob", sessions[0].Username)

	require.NoError(t, conn.WriteJSON(models.WSMessage{Type: "get_stats"}))
	msg = readMessage(t, conn, "stats")
	var st models.CaptureStats
	require.NoError(t, json.Unmarshal(msg.Payload, &st))
	assert.Equal(t, 1, st.SessionCount)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readMessage(t, conn, "error")
	assert.Contains(t, string(msg.Payload), "invalid message format")

	require.NoError(t, conn.WriteJSON(models.WSMessage{Type: "bogus"}))
	msg = readMessage(t, conn, "error")
	assert.Contains(t, string(msg.Payload), "unknown command")

	payload, _ := json.Marshal(models.StartCaptureRequest{Interface: "lo", Mode: "xdp"})
	require.NoError(t, conn.WriteJSON(models.WSMessage{Type: "start_capture", Payload: payload}))
	msg = readMessage(t, conn, "error")
	assert.Contains(t, string(msg.Payload), "capture failed")
}
