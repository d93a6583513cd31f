package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/binbridge/binbridge/internal/bridge"
)

// WebSocket timeouts.
const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
	wsSendBuffer     = 16
)

// WSRequest is one request message on /ws.
type WSRequest struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Params    bridge.Params   `json:"params,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// WSResponse answers the WSRequest with the same id.
type WSResponse struct {
	ID string `json:"id"`
	bridge.Envelope
}

type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (s *Server) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
		}
	}
	return u
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsConn{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		closed: make(chan struct{}),
	}

	s.wsMu.Lock()
	select {
	case <-s.done:
		s.wsMu.Unlock()
		c.close()
		return
	default:
	}
	s.wsConns[c] = struct{}{}
	s.wsMu.Unlock()

	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket connected")

	go s.writePump(c)
	s.readPump(c)

	s.wsMu.Lock()
	delete(s.wsConns, c)
	s.wsMu.Unlock()
	c.close()
	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket disconnected")
}

// readPump handles messages one at a time, so responses leave in request
// order.
func (s *Server) readPump(c *wsConn) {
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.closed
		cancel()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		resp := s.handleMessage(ctx, message)
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode websocket response")
			continue
		}
		select {
		case c.send <- data:
		case <-c.closed:
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, message []byte) WSResponse {
	var req WSRequest
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return WSResponse{Envelope: bridge.Failure(bridge.InvalidArgument("invalid message: %v", err))}
	}

	op, err := bridge.ParseOperation(req.Operation)
	if err != nil {
		return WSResponse{ID: req.ID, Envelope: bridge.Failure(err)}
	}

	var body []byte
	if trimmed := bytes.TrimSpace(req.Body); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		body = trimmed
	}

	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	env := s.cfg.Dispatcher.Do(ctx, &bridge.Request{
		ID:        requestID,
		Operation: op,
		Params:    req.Params,
		Body:      body,
	})
	return WSResponse{ID: req.ID, Envelope: env}
}

func (s *Server) writePump(c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}
