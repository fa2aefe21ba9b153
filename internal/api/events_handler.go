package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/typepool/internal/events"
)

// handleEvents streams hub events as server-sent events. A client reconnecting with
// Last-Event-ID first receives whatever the hub ring still holds after that ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The live subscription opens before the replay, so events published in between arrive on
	// both paths; cursor drops the duplicates.
	live, unsubscribe := s.hub.Subscribe(256)
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	cur := cursor{last: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.hub.SnapshotSince(cur.last) {
		if err := cur.send(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = cur.send(w, ev)
		case <-keepAlive.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
		flusher.Flush()
	}
}

// cursor tracks the highest event ID written to one client.
type cursor struct {
	last int64
}

func (c *cursor) send(w io.Writer, ev events.Event) error {
	if ev.ID <= c.last {
		return nil
	}
	if err := writeSSE(w, ev); err != nil {
		return err
	}
	c.last = ev.ID
	return nil
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. Data is single-line JSON so it fits on one data: line.
func writeSSE(w io.Writer, ev events.Event) error {
	if ev.Type == "" {
		_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
		return err
	}
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
