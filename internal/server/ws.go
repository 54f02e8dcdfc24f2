package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/storefinder/internal/board"
	"github.com/jpalmerr/storefinder/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is the incoming WebSocket message format.
type wsRequest struct {
	Type       string                  `json:"type"` // "refresh" or "reset"
	Checkboxes []session.CheckboxState `json:"checkboxes,omitempty"`
}

// wsResponse is the outgoing WebSocket message format.
type wsResponse struct {
	Type       string      `json:"type"` // "cell", "refresh", "reset" or "error"
	Cell       *board.Cell `json:"cell,omitempty"`
	Generation uint64      `json:"generation,omitempty"`
	Requested  int         `json:"requested,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// handleWebSocket is the two-way counterpart of handleSSE: it streams cell
// updates and accepts refresh and reset commands on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sess.ID(), "error", err.Error())
		return
	}
	defer conn.Close()

	b := sess.Board()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	replies := make(chan wsResponse, 8)
	readDone := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go s.readCommands(conn, sess, replies, readDone, quit)

	write := func(resp wsResponse) error {
		if err := conn.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(resp)
	}

	for _, cell := range b.GetAll() {
		if err := write(wsResponse{Type: "cell", Cell: &cell}); err != nil {
			return
		}
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-keepalive.C:
			if _, err := s.registry.Get(sess.ID()); err != nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(sseWriteTimeout)); err != nil {
				return
			}

		case cell, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(time.Second))
				return
			}
			if err := write(wsResponse{Type: "cell", Cell: &cell}); err != nil {
				return
			}

		case resp := <-replies:
			if err := write(resp); err != nil {
				return
			}

		case <-readDone:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// readCommands handles client messages until the connection fails. Replies
// go through the writer loop since a connection allows one writer at a time.
func (s *Server) readCommands(conn *websocket.Conn, sess *session.Session, replies chan<- wsResponse, done chan<- struct{}, quit <-chan struct{}) {
	defer close(done)

	reply := func(resp wsResponse) bool {
		select {
		case replies <- resp:
			return true
		case <-quit:
			return false
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "session_id", sess.ID(), "error", err.Error())
			}
			return
		}

		// keeps the session alive while the socket is in use
		if _, err := s.registry.Get(sess.ID()); err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			if !reply(wsResponse{Type: "error", Error: "invalid message format"}) {
				return
			}
			continue
		}

		var resp wsResponse
		switch req.Type {
		case "refresh":
			cycle := sess.RefreshInventory(req.Checkboxes)
			resp = wsResponse{Type: "refresh", Generation: cycle.Generation(), Requested: cycle.Requested()}
		case "reset":
			sess.Board().Reset()
			resp = wsResponse{Type: "reset"}
		default:
			resp = wsResponse{Type: "error", Error: "unknown message type: " + req.Type}
		}
		if !reply(resp) {
			return
		}
	}
}
