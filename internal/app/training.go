package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/trainer"
)

const defaultHistoryPageSize = 20

// HistoryPage is one page of training runs, newest first.
type HistoryPage struct {
	Items []model.ModelTrainingHistory `json:"items"`
	Total int                          `json:"total"`
	Page  int                          `json:"page"`
	Size  int                          `json:"size"`
}

// FeatureImportance of the live model.
type FeatureImportance struct {
	ModelVersion string             `json:"modelVersion,omitempty"`
	Importance   map[string]float64 `json:"importance"`
}

// StartTraining launches a background run.
func (s *Service) StartTraining(ctx context.Context, req trainer.Request) (string, error) {
	if req.MonthsBack < 0 {
		return "", fmt.Errorf("%w: monthsBack must not be negative", ErrBadRequest)
	}
	return s.trainer.Start(ctx, req)
}

// CancelTraining stops the active run.
func (s *Service) CancelTraining() error { return s.trainer.Cancel() }

// TrainingStatus reports the current or last run.
func (s *Service) TrainingStatus() trainer.Status { return s.trainer.Status() }

// TrainingHistory pages the run log. page is 1-based; daysBack <= 0 lists every run.
func (s *Service) TrainingHistory(ctx context.Context, page, size, daysBack int) (HistoryPage, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultHistoryPageSize
	}
	if ceiling := s.cfg.MaxHistoryPageSize; ceiling > 0 && size > ceiling {
		size = ceiling
	}
	var since time.Time
	if daysBack > 0 {
		since = s.now().AddDate(0, 0, -daysBack)
	}
	items, total, err := s.store.ListHistory(ctx, since, (page-1)*size, size)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list history: %w", err)
	}
	if items == nil {
		items = []model.ModelTrainingHistory{}
	}
	return HistoryPage{Items: items, Total: total, Page: page, Size: size}, nil
}

// FeatureImportance of the deployed model; empty on cold start.
func (s *Service) FeatureImportance() FeatureImportance {
	out := FeatureImportance{ModelVersion: s.handle.Version(), Importance: s.trainer.FeatureImportance()}
	if out.Importance == nil {
		out.Importance = map[string]float64{}
	}
	return out
}

// ValidateData reports the quality of the last months of training data.
func (s *Service) ValidateData(ctx context.Context, months int) (trainer.Report, error) {
	if months < 0 {
		return trainer.Report{}, fmt.Errorf("%w: months must not be negative", ErrBadRequest)
	}
	return s.trainer.ValidateData(ctx, months)
}

// PublishEvent checks rec and publishes it on the topic of its type. Missing
// ids and timestamps are filled in.
func (s *Service) PublishEvent(ctx context.Context, rec model.EventRecord) (model.EventRecord, error) {
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now().UTC()
	}
	if rec.UserID == "" {
		return rec, fmt.Errorf("%w: userId is required", ErrBadRequest)
	}
	if err := rec.Check(); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := s.producer.PublishEvent(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}
