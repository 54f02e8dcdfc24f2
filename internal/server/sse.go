package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jpalmerr/storefinder/internal/board"
)

// eventStream writes board cells to a text/event-stream response.
type eventStream struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	deadlines bool
	server    *Server
}

func (e *eventStream) send(cell board.Cell) error {
	payload, err := json.Marshal(cell)
	if err != nil {
		e.server.logger.Warn("skipping unencodable cell", "cell", cell.Name, "error", err)
		return nil
	}
	if e.deadlines {
		if err := e.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
			e.server.logger.Warn("sse write deadlines not supported", "error", err)
			e.deadlines = false
		}
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return e.rc.Flush()
}

func (e *eventStream) ping() error {
	if e.deadlines {
		_ = e.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	}
	if _, err := fmt.Fprint(e.w, ": keepalive\n\n"); err != nil {
		return err
	}
	return e.rc.Flush()
}

// handleSSE pushes the session's cells as Server-Sent Events, current cells
// first, with a comment line every keepaliveInterval while idle. It returns
// when the client goes away, the server stops or the session is removed.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	sess := sessionFrom(r)
	b := sess.Board()
	updates := b.Subscribe()
	defer b.Unsubscribe(updates)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	stream := &eventStream{w: w, rc: http.NewResponseController(w), deadlines: true, server: s}
	for _, cell := range b.GetAll() {
		if stream.send(cell) != nil {
			return
		}
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case cell, open := <-updates:
			if !open || stream.send(cell) != nil {
				return
			}
		case <-keepalive.C:
			if _, err := s.registry.Get(sess.ID()); err != nil {
				return
			}
			if stream.ping() != nil {
				return
			}
		}
	}
}
