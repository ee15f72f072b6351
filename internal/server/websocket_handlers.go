package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/fisheye/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSourceID     = "ws"
)

// WebSocketMessage is the JSON control message exchanged on /ws/rectify.
//
// Clients send {"type":"params"} to replace the parameters of the
// connection; every binary message after that is a frame and is answered
// with the rectified frame as a binary PNG. Failures are reported with
// {"type":"error"} and leave the connection open.
type WebSocketMessage struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	Aspect *float64        `json:"aspect,omitempty"`
	Source string          `json:"source,omitempty"`
	Error  string          `json:"error,omitempty"`
	Frames int             `json:"frames,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsSession is the per-connection rendering state.
type wsSession struct {
	client string
	req    rectifyRequest
	frames int
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// rectifyWebSocketHandler streams frames through the stabilizer.
func (s *Server) rectifyWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	sess := &wsSession{
		client: getClientIP(r),
		req:    rectifyRequest{params: s.params, aspect: s.aspect, source: wsSourceID},
	}
	s.handleWebSocketConnection(conn, sess)
}

func (s *Server) handleWebSocketConnection(conn *websocket.Conn, sess *wsSession) {
	conn.SetReadLimit(s.maxUploadBytes())
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch messageType {
		case websocket.TextMessage:
			s.handleWebSocketControl(conn, sess, data)
		case websocket.BinaryMessage:
			s.handleWebSocketFrame(conn, sess, data)
		}
	}
}

// handleWebSocketControl applies a params message to the session.
func (s *Server) handleWebSocketControl(conn WebSocketConnWriter, sess *wsSession, data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendWebSocketError(conn, fmt.Sprintf("failed to parse message: %v", err))
		return
	}
	if msg.Type != "params" {
		s.sendWebSocketError(conn, "unsupported message type: "+msg.Type)
		return
	}

	params, err := s.decodeParams(msg.Params)
	if err != nil {
		s.sendWebSocketError(conn, err.Error())
		return
	}
	next := sess.req
	next.params = params
	if msg.Aspect != nil {
		if *msg.Aspect < 0 {
			s.sendWebSocketError(conn, fmt.Sprintf("invalid aspect: %g", *msg.Aspect))
			return
		}
		next.aspect = *msg.Aspect
	}
	if msg.Source != "" {
		next.source = msg.Source
	}
	sess.req = next

	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "ready", Source: next.source, Frames: sess.frames})
}

// handleWebSocketFrame rectifies one encoded frame and sends it back as PNG.
func (s *Server) handleWebSocketFrame(conn *websocket.Conn, sess *wsSession, data []byte) {
	if s.limiter != nil {
		if err := s.limiter.Allow(sess.client, int64(len(data))); err != nil {
			var rle *RateLimitError
			if errors.As(err, &rle) {
				rateLimitHits.WithLabelValues(rle.Window).Inc()
			}
			s.sendWebSocketError(conn, err.Error())
			return
		}
	}
	uploadSizeBytes.Observe(float64(len(data)))

	img, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		s.sendWebSocketError(conn, fmt.Sprintf("failed to decode image: %v", err))
		return
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		s.sendWebSocketError(conn, err.Error())
		return
	}

	req := sess.req
	req.img = img
	out, err := s.render(context.Background(), "websocket", req)
	if err != nil {
		s.sendWebSocketError(conn, fmt.Sprintf("rectification failed: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, out); err != nil {
		s.sendWebSocketError(conn, err.Error())
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		slog.Error("Failed to send WebSocket frame", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	sess.frames++
}

// sendWebSocketMessage sends a control message over WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendWebSocketError(conn WebSocketConnWriter, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "error", Error: message})
}
