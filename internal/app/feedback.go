package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/okian/assignml/internal/adapters/repository"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// SubmitFeedback records the observed outcome on the newest prediction log of
// the pair. Feedback never creates a log.
func (s *Service) SubmitFeedback(ctx context.Context, fb model.Feedback) (model.PredictionLog, error) {
	if strings.TrimSpace(fb.TaskID) == "" || strings.TrimSpace(fb.UserID) == "" {
		return model.PredictionLog{}, fmt.Errorf("%w: taskId and userId are required", ErrBadRequest)
	}
	if p := fb.ActualPerformance; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 1) {
		return model.PredictionLog{}, fmt.Errorf("%w: actualPerformance must be in [0,1]", ErrBadRequest)
	}

	log, err := s.store.LatestPrediction(ctx, fb.TaskID, fb.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		metrics.RecordFeedback("unknown")
		return model.PredictionLog{}, ErrPredictionNotFound
	case err != nil:
		return model.PredictionLog{}, fmt.Errorf("latest prediction: %w", err)
	case log.HasFeedback():
		metrics.RecordFeedback("duplicate")
		return model.PredictionLog{}, ErrFeedbackRecorded
	}

	actual := 0.0
	if fb.ActualSuccess {
		actual = 1
	}
	if fb.ActualPerformance != nil {
		actual = *fb.ActualPerformance
	}
	now := s.now().UTC()
	log.ActualSuccess = model.Bool(fb.ActualSuccess)
	log.PredictionAccuracy = model.Float(1 - math.Abs(log.ConfidenceScore-actual))
	log.FeedbackDate = &now

	switch err := s.store.RecordFeedback(ctx, log); {
	case errors.Is(err, repository.ErrConflict):
		metrics.RecordFeedback("duplicate")
		return model.PredictionLog{}, ErrFeedbackRecorded
	case errors.Is(err, repository.ErrNotFound):
		metrics.RecordFeedback("unknown")
		return model.PredictionLog{}, ErrPredictionNotFound
	case err != nil:
		return model.PredictionLog{}, fmt.Errorf("record feedback: %w", err)
	}
	metrics.RecordFeedback("recorded")
	s.logger.Debug(ctx, "feedback recorded",
		logger.String("task_id", fb.TaskID),
		logger.String("user_id", fb.UserID),
		logger.Float64("accuracy", *log.PredictionAccuracy),
	)
	return log, nil
}
