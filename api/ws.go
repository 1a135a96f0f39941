/*
ws.go - Websocket channel for forecast triggers

PURPOSE:
  Lets the page trigger forecasts over one long-lived connection. Each
  connection is its own session: messages are read in arrival order, every
  "forecast" message begins a new ticket, and only the newest ticket's
  result is sent back. Superseded work is dropped without a reply.

PROTOCOL:
  client -> {"type":"forecast","store":20,"seq":3}
  server -> {"type":"figure","seq":3,"forecast":{...}}
  server -> {"type":"error","seq":3,"error":{"error":"...","details":"..."}}
  client -> {"type":"ping"}   server -> {"type":"pong"}

CONCURRENCY:
  Forecasts run in their own goroutines so the read loop keeps accepting
  triggers. Writes are serialised with a mutex; gorilla/websocket allows one
  concurrent writer.

SHUTDOWN:
  http.Server.Shutdown does not track hijacked connections. Open connections
  are registered on the Handler; CloseConnections closes them and waits
  until their forecasts have been recorded, so the run log can be closed
  afterwards.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/warp/retail-forecast/retail"
	"github.com/warp/retail-forecast/session"
)

const (
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
)

// wsConn wraps a connection with a write lock.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger
}

func (c *wsConn) send(msg WSMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Msg("websocket write failed")
	}
}

func (c *wsConn) sendError(seq uint64, status int, message string, err error) {
	resp := &ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.log.Debug().Int("status", status).Str("error", message).Msg("websocket error reply")
	c.send(WSMessage{Type: MsgError, Seq: seq, Error: resp})
}

// newUpgrader accepts same-origin requests, requests without an Origin
// header, and the configured CORS origins.
func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// ServeWS upgrades the request and serves forecast triggers until the
// client disconnects.
// GET /ws
func (h *Handler) ServeWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error.
			h.log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		sid := "ws-" + uuid.NewString()
		c := &wsConn{conn: conn, log: h.log.With().Str("session", sid).Logger()}
		if !h.trackWS(c) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		var wg sync.WaitGroup

		defer func() {
			cancel()
			wg.Wait()
			h.Sequencer.Forget(sid)
			conn.Close()
			h.untrackWS(c)
			c.log.Debug().Msg("websocket closed")
		}()
		c.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket opened")

		conn.SetReadLimit(wsReadLimit)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Warn().Err(err).Msg("websocket read failed")
				}
				return
			}

			var req WSRequest
			if err := json.Unmarshal(data, &req); err != nil {
				c.sendError(0, http.StatusBadRequest, "Invalid message", err)
				continue
			}

			switch req.Type {
			case MsgPing:
				c.send(WSMessage{Type: MsgPong, Seq: req.Seq})
			case MsgForecast:
				if req.Store == nil {
					c.sendError(req.Seq, http.StatusBadRequest, "Store is required", nil)
					continue
				}
				ticket := h.Sequencer.Begin(sid)
				wg.Add(1)
				go func(req WSRequest) {
					defer wg.Done()
					h.serveWSForecast(ctx, c, ticket, req)
				}(req)
			default:
				c.sendError(req.Seq, http.StatusBadRequest, "Unknown message type", errors.New(req.Type))
			}
		}
	}
}

// CloseConnections closes every open websocket and waits until their
// in-flight forecasts have returned and been recorded, or ctx is done.
// Connections opened afterwards are refused.
func (h *Handler) CloseConnections(ctx context.Context) error {
	h.wsMu.Lock()
	h.wsClosed = true
	for c := range h.wsConns {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
	open := len(h.wsConns)
	h.wsMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.log.Debug().Int("connections", open).Msg("websocket connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) trackWS(c *wsConn) bool {
	h.wsMu.Lock()
	defer h.wsMu.Unlock()
	if h.wsClosed {
		return false
	}
	if h.wsConns == nil {
		h.wsConns = make(map[*wsConn]struct{})
	}
	h.wsConns[c] = struct{}{}
	h.wsWG.Add(1)
	return true
}

func (h *Handler) untrackWS(c *wsConn) {
	h.wsMu.Lock()
	delete(h.wsConns, c)
	h.wsMu.Unlock()
	h.wsWG.Done()
}

func (h *Handler) serveWSForecast(ctx context.Context, c *wsConn, t session.Ticket, req WSRequest) {
	resp, err := h.forecast(ctx, t, retail.StoreID(*req.Store))
	switch {
	case errors.Is(err, session.ErrSuperseded):
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		status, msg := errorStatus(err)
		c.sendError(req.Seq, status, msg, err)
		return
	}
	resp.Seq = req.Seq
	c.send(WSMessage{Type: MsgFigure, Seq: req.Seq, Forecast: resp})
}
