package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pkt.systems/coderoom/internal/logx"
	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 64
)

// wsConn is one authenticated websocket connection. Outbound frames go
// through a buffered queue drained by a single writer goroutine; a
// connection that stops draining is closed rather than allowed to stall
// room broadcasts.
type wsConn struct {
	id   schema.ConnID
	who  schema.Identity
	sock *websocket.Conn
	srv  *Server
	log  pslog.Logger

	send      chan envelope
	closeOnce sync.Once
}

func newWSConn(srv *Server, sock *websocket.Conn, who schema.Identity, log pslog.Logger) *wsConn {
	id := schema.ConnID(uuid.NewString())
	return &wsConn{
		id:   id,
		who:  who,
		sock: sock,
		srv:  srv,
		log:  log.With("conn", id),
		send: make(chan envelope, sendQueueSize),
	}
}

// enqueue queues an outbound frame without blocking. Callers may hold
// the room lock.
func (c *wsConn) enqueue(env envelope) {
	select {
	case c.send <- env:
	default:
		c.log.Warn("ws send queue full; dropping connection")
		c.close()
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		_ = c.sock.Close()
	})
}

// serve runs the connection until the peer disconnects or the context
// ends. It always detaches the connection from its room on the way out.
func (c *wsConn) serve(ctx context.Context) {
	ctx = logx.ContextWithConn(ctx, c.id)
	c.srv.hub.register(c)
	done := make(chan struct{})
	go c.writeLoop(done)

	c.readLoop(ctx)

	c.close()
	close(done)
	c.srv.hub.unregister(c.id)
	if roomID, left := c.srv.service.Leave(ctx, c.id); left {
		c.log.Info("ws connection detached", "room", roomID)
	}
	c.log.Info("ws connection closed")
}

func (c *wsConn) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(env); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-done:
			return
		}
	}
}

func (c *wsConn) readLoop(ctx context.Context) {
	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var env envelope
		if err := c.sock.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("ws read failed", "err", err)
			}
			return
		}
		c.dispatch(ctx, env)
	}
}

func (c *wsConn) dispatch(ctx context.Context, env envelope) {
	switch env.Event {
	case evJoin:
		var payload joinPayload
		if !c.decode(env.Data, &payload) {
			return
		}
		if err := c.srv.service.Join(ctx, payload.RoomID, c.id, c.who); err != nil {
			c.enqueue(mustEnvelope(evJoinRejected, joinRejectedPayload{
				RoomID: payload.RoomID,
				Error:  publicError(err),
			}))
		}
	case evDocumentEdit:
		var payload documentEditPayload
		if !c.decode(env.Data, &payload) {
			return
		}
		if err := c.srv.service.ApplyEdit(ctx, payload.RoomID, c.id, payload.Text); err != nil {
			// Persistence failures go to the editing connection only;
			// the broadcast already went out.
			c.enqueue(mustEnvelope(evError, errorPayload{Message: publicError(err)}))
		}
	case evLanguageChange:
		var payload languageChangePayload
		if !c.decode(env.Data, &payload) {
			return
		}
		if err := c.srv.service.ApplyLanguageChange(ctx, payload.RoomID, c.id, payload.Language); err != nil {
			c.enqueue(mustEnvelope(evError, errorPayload{Message: publicError(err)}))
		}
	case evCursorReport:
		var payload cursorReportPayload
		if !c.decode(env.Data, &payload) {
			return
		}
		_ = c.srv.service.ReportCursor(ctx, schema.CursorState{
			ConnID:         c.id,
			RoomID:         payload.RoomID,
			Position:       payload.Position,
			SelectionStart: payload.SelectionStart,
			SelectionEnd:   payload.SelectionEnd,
			DisplayName:    c.who.DisplayName,
		})
	default:
		c.log.Debug("ws unknown event", "event", env.Event)
	}
}

func (c *wsConn) decode(data json.RawMessage, target any) bool {
	if len(data) == 0 {
		c.enqueue(mustEnvelope(evError, errorPayload{Message: "missing payload"}))
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		c.enqueue(mustEnvelope(evError, errorPayload{Message: "malformed payload"}))
		return false
	}
	return true
}

// publicError maps internal errors to messages safe to show a client.
func publicError(err error) string {
	switch {
	case errors.Is(err, schema.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, schema.ErrPersistence):
		return "edit accepted but not persisted"
	case errors.Is(err, schema.ErrUnsupportedLanguage):
		return "language not supported"
	default:
		return "request failed"
	}
}
