package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/assignml/internal/domain/trainer"
)

type trainingStarted struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// handleStartTraining handles POST /v1/training. An empty body starts a
// default run.
func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	var req trainer.Request
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	runID, err := s.deps.StartTraining(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, trainingStarted{RunID: runID, Status: trainer.StateRunning})
}

func (s *Server) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.TrainingStatus())
}

func (s *Server) handleCancelTraining(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.CancelTraining(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.TrainingStatus())
}

// handleTrainingHistory handles GET /v1/training/history?page=&size=&daysBack=.
func (s *Server) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	size, err := intParam(r, "size")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	daysBack, err := intParam(r, "daysBack")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out, err := s.deps.TrainingHistory(r.Context(), page, size, daysBack)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeatureImportance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.FeatureImportance())
}

// handleValidate handles GET /v1/training/validate?months=N.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r, "months")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	report, err := s.deps.ValidateData(r.Context(), months)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// intParam reads an optional integer query parameter; absent means zero.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest(fmt.Errorf("%s must be an integer", name))
	}
	return n, nil
}
