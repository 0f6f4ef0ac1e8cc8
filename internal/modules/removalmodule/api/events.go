package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventMessage is one frame on the session event stream.
type EventMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Snapshot  *types.Snapshot `json:"snapshot,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const (
	eventSnapshot = "snapshot"
	eventClosed   = "session_closed"
)

// CheckOrigin builds the websocket origin check from an allow list. An
// empty list or "*" allows every origin.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Events handles GET /sessions/:sessionId/events
//
// The current snapshot is sent on connect, then every change. The stream
// ends with a session_closed message when the session is closed.
func (h *APIHandler) Events(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "session_id", s.ID(), "error", err)
		return
	}
	defer conn.Close()

	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// the reader only watches for disconnects and pongs
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, open := <-snaps:
			if !open {
				h.send(conn, EventMessage{Type: eventClosed, SessionID: s.ID(), Timestamp: time.Now().Unix()})
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := h.send(conn, EventMessage{Type: eventSnapshot, SessionID: snap.SessionID, Snapshot: &snap, Timestamp: time.Now().Unix()}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *APIHandler) send(conn *websocket.Conn, msg EventMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("event write failed", "session_id", msg.SessionID, "error", err)
		return err
	}
	return nil
}
