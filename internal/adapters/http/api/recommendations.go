package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	service "github.com/okian/assignml/internal/app"
	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/model"
)

// recommendRequest is the wire form of service.RecommendRequest. Candidates
// stay raw so one unreadable record is skipped instead of failing the batch.
type recommendRequest struct {
	Task         *model.TaskProfile `json:"task,omitempty"`
	TaskID       string             `json:"taskId,omitempty"`
	Candidates   []json.RawMessage  `json:"candidates,omitempty"`
	CandidateIDs []string           `json:"candidateIds,omitempty" validate:"omitempty,dive,required"`
	Weights      map[string]float64 `json:"weights,omitempty"`
	Limit        int                `json:"limit,omitempty" validate:"gte=0"`
}

func (r recommendRequest) toService() service.RecommendRequest {
	req := service.RecommendRequest{
		Task:         r.Task,
		TaskID:       r.TaskID,
		CandidateIDs: r.CandidateIDs,
		Weights:      r.Weights,
		Limit:        r.Limit,
	}
	if len(r.Candidates) > 0 {
		req.Candidates = make([]model.UserProfile, 0, len(r.Candidates))
	}
	for _, raw := range r.Candidates {
		var c model.UserProfile
		if err := json.Unmarshal(raw, &c); err != nil {
			req.Rejected = append(req.Rejected, features.Skipped{
				UserID: candidateID(raw),
				Reason: fmt.Sprintf("%v: %v", features.ErrMalformedCandidate, err),
			})
			continue
		}
		req.Candidates = append(req.Candidates, c)
	}
	return req
}

// candidateID recovers the id of a record that failed to decode, if it has one.
func candidateID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ID
}

// handleRecommend handles POST /v1/recommendations.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var body recommendRequest
	if err := s.decode(w, r, &body); err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp, err := s.deps.Recommend(r.Context(), body.toService())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeedback handles POST /v1/feedback.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.Feedback
	if err := s.decode(w, r, &fb); err != nil {
		writeServiceError(w, r, err)
		return
	}
	log, err := s.deps.SubmitFeedback(r.Context(), fb)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}
