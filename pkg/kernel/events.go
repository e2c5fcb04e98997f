package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

// StreamEvents serves session progress as server-sent events. Without a session_id
// filter it streams every session.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request, params StreamEventsParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var id domain.SessionID
	if params.SessionId != nil {
		id = domain.SessionID(*params.SessionId)
	}
	ch, unsub := s.events.Subscribe(id)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to encode event", "session_id", evt.SessionID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}
