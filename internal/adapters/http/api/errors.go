package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	service "github.com/okian/assignml/internal/app"
	"github.com/okian/assignml/internal/domain/trainer"
	"github.com/okian/assignml/pkg/logger"
)

// Error codes returned in the body of failed requests.
const (
	codeBadRequest = "bad_request"
	codeNotFound   = "not_found"
	codeConflict   = "conflict"
	codeCancelled  = "cancelled"
	codeInternal   = "internal"
)

// statusClientClosedRequest is reported when the caller went away.
const statusClientClosedRequest = 499

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", service.ErrBadRequest, err)
}

// classify maps a service error to its status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, service.ErrPredictionNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrFeedbackRecorded),
		errors.Is(err, trainer.ErrTrainingInProgress),
		errors.Is(err, trainer.ErrNoActiveTraining):
		return http.StatusConflict, codeConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, codeCancelled
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.Get().Named("api").Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path), logger.Error(err))
		writeError(w, status, code, nil)
		return
	}
	writeError(w, status, code, err)
}
