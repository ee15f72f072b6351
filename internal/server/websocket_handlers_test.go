package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func (m *mockWebSocketConn) lastMessage(t *testing.T) WebSocketMessage {
	t.Helper()
	require.NotEmpty(t, m.sentMessages)
	last := m.sentMessages[len(m.sentMessages)-1]
	assert.Equal(t, websocket.TextMessage, last.messageType)
	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(last.data, &msg))
	return msg
}

func TestServer_HandleWebSocketControl(t *testing.T) {
	server := newTestServer(t)
	newSession := func() *wsSession {
		return &wsSession{req: rectifyRequest{params: server.params, source: wsSourceID}}
	}

	t.Run("params", func(t *testing.T) {
		conn := &mockWebSocketConn{}
		sess := newSession()
		server.handleWebSocketControl(conn, sess,
			[]byte(`{"type":"params","params":{"fov_scale":1.5},"aspect":1.5,"source":"cam-1"}`))

		msg := conn.lastMessage(t)
		assert.Equal(t, "ready", msg.Type)
		assert.Equal(t, "cam-1", msg.Source)
		assert.InDelta(t, 1.5, sess.req.params.FOVScale, 0)
		assert.InDelta(t, 1.5, sess.req.aspect, 0)
		assert.Equal(t, stabilize.DefaultFrameParams().CameraMatrix, sess.req.params.CameraMatrix)
	})

	errorCases := map[string]string{
		"malformed":      `{`,
		"unknown type":   `{"type":"subscribe"}`,
		"invalid params": `{"type":"params","params":{"fov_scale":-1}}`,
		"invalid aspect": `{"type":"params","aspect":-1}`,
	}
	for name, data := range errorCases {
		t.Run(name, func(t *testing.T) {
			conn := &mockWebSocketConn{}
			sess := newSession()
			server.handleWebSocketControl(conn, sess, []byte(data))

			msg := conn.lastMessage(t)
			assert.Equal(t, "error", msg.Type)
			assert.NotEmpty(t, msg.Error)
			assert.Equal(t, server.params, sess.req.params)
			assert.Equal(t, wsSourceID, sess.req.source)
		})
	}
}

func TestServer_RectifyWebSocket(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/rectify"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	readText := func() WebSocketMessage {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, mt)
		var msg WebSocketMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"params","aspect":1}`)))
	assert.Equal(t, "ready", readText().Type)

	frame := solidPNG(t, 64, 36, green)
	for range 2 {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, mt)
		out := decodePNG(t, data)
		assert.Equal(t, 36, out.Bounds().Dx())
		assert.Equal(t, 36, out.Bounds().Dy())
	}

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	msg := readText()
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "decode")

	// The connection survives errors and keeps its session.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"params"}`)))
	msg = readText()
	assert.Equal(t, "ready", msg.Type)
	assert.Equal(t, 2, msg.Frames)

	stats := server.stab.Stats()
	assert.Equal(t, uint64(2), stats.Renders)
	assert.Equal(t, uint64(1), stats.CacheHits)
}

func TestServer_WebSocketOriginCheck(t *testing.T) {
	server := newTestServer(t, func(c *Config) { c.CORSOrigin = "https://allowed.example" })
	ts := httptest.NewServer(http.HandlerFunc(server.rectifyWebSocketHandler))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://allowed.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = conn.Close()
}
