package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// wireEvent is the tagged message forwarded to stream clients.
type wireEvent struct {
	Type      string `json:"type"`
	Structure string `json:"structure"`
	Data      any    `json:"data"`
}

// handleEvents streams a structure's change events as server-sent events.
// The subscription starts at connect time: events fired earlier are never
// replayed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.registry.Get(name); err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	sub := s.notifier.Subscribe(name)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			msg := wireEvent{
				Type:      string(ev.Kind),
				Structure: ev.Structure,
				Data: map[string]any{
					"record_id": ev.RecordID,
					"payload":   ev.Payload,
					"timestamp": ev.Timestamp,
				},
			}
			b, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("encode event", "structure", name, "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}
