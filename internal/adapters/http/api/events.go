package api

import (
	"net/http"

	"github.com/okian/assignml/internal/domain/model"
)

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
	Topic   string `json:"eventType"`
}

// handlePostEvent handles POST /v1/events. The event is published to the topic
// of its type and consumed asynchronously; duplicates are dropped there.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var rec model.EventRecord
	// Tags are checked by the consumer; the id may still be missing here.
	if err := decodeBody(w, r, &rec); err != nil {
		writeServiceError(w, r, err)
		return
	}
	out, err := s.deps.PublishEvent(r.Context(), rec)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: out.EventID, Topic: out.EventType.String()})
}
