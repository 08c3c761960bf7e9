package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/facegate/internal/events"
)

const keepAliveInterval = 15 * time.Second

// eventStream writes hub events to one SSE client, never repeating an ID.
type eventStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	lastID int64
}

func openEventStream(w http.ResponseWriter, lastID int64) *eventStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	return &eventStream{w: w, rc: rc, lastID: lastID}
}

func (s *eventStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	if err := writeSSE(s.w, ev); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *eventStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *eventStream) flush() error {
	return s.rc.Flush()
}

// handleEvents streams hub events as Server-Sent Events. Buffered events
// newer than Last-Event-ID are replayed first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	live, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	stream := openEventStream(w, parseLastEventID(r.Header.Get("Last-Event-ID")))
	for _, ev := range s.deps.Events.SnapshotSince(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	if err := stream.flush(); err != nil {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err = stream.send(ev); err == nil {
				err = stream.flush()
			}
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			s.requestLogger(r).Debug("event stream ended", "error", err, "last_id", stream.lastID)
			return
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Payloads are single-line JSON.
	frame += "data: " + string(ev.Data) + "\n\n"
	_, err := fmt.Fprint(w, frame)
	return err
}
