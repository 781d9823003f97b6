// Package repository persists consumed events, training rows, training history
// and prediction logs.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

// EventStore keeps raw consumed events for audit and joins.
type EventStore interface {
	// SaveEvent stores ev unprocessed. Returns ErrDuplicate when the event id exists.
	SaveEvent(ctx context.Context, ev model.MLTrainingEvent) error
	// LatestAssignment returns the newest unprocessed TASK_ASSIGNMENT for the pair.
	// Returns ErrNotFound if there is none.
	LatestAssignment(ctx context.Context, taskID, userID string) (model.MLTrainingEvent, error)
	// MarkProcessed flags the given events processed at at.
	MarkProcessed(ctx context.Context, at time.Time, eventIDs ...string) error
	// EventCounts returns the total and unprocessed number of stored events.
	EventCounts(ctx context.Context) (total, unprocessed int, err error)
}

// TrainingDataStore keeps labelled rows. Rows are never updated.
type TrainingDataStore interface {
	// SaveTrainingData inserts row and sets its ID. Returns ErrDuplicate when a
	// row for the same source event exists.
	SaveTrainingData(ctx context.Context, row *model.TrainingData) error
	// ListTrainingData returns rows created at or after since, oldest first.
	ListTrainingData(ctx context.Context, since time.Time) ([]model.TrainingData, error)
	// SimilarHistory returns the newest rows of taskType, plus untyped rows.
	// An empty taskType returns the newest rows of every type.
	SimilarHistory(ctx context.Context, taskType string, limit int) ([]model.TrainingData, error)
	// CountTrainingData counts rows created at or after since.
	CountTrainingData(ctx context.Context, since time.Time) (int, error)
}

// HistoryStore is the append-only log of training runs.
type HistoryStore interface {
	AppendHistory(ctx context.Context, h *model.ModelTrainingHistory) error
	// LatestHistory returns the newest run of any status.
	LatestHistory(ctx context.Context) (model.ModelTrainingHistory, error)
	// LatestDeployed returns the newest DEPLOYED run, i.e. the current model.
	LatestDeployed(ctx context.Context) (model.ModelTrainingHistory, error)
	// ListHistory pages runs trained at or after since, newest first, and
	// returns the total number matching.
	ListHistory(ctx context.Context, since time.Time, offset, limit int) ([]model.ModelTrainingHistory, int, error)
}

// PredictionStore keeps one log per served recommendation.
type PredictionStore interface {
	SavePredictions(ctx context.Context, logs ...model.PredictionLog) error
	// LatestPrediction returns the newest log for the pair or ErrNotFound.
	LatestPrediction(ctx context.Context, taskID, userID string) (model.PredictionLog, error)
	// RecordFeedback stores the outcome fields of p once. Returns ErrNotFound for
	// an unknown id and ErrConflict when feedback was already recorded.
	RecordFeedback(ctx context.Context, p model.PredictionLog) error
	// MarkSelected flags the newest log of the pair as the chosen assignee.
	MarkSelected(ctx context.Context, taskID, userID string) error
	// FeedbackAccuracy averages predictionAccuracy over feedback received at or after since.
	FeedbackAccuracy(ctx context.Context, since time.Time) (avg float64, n int, err error)
}

// Store is every persistence concern of the engine.
type Store interface {
	EventStore
	TrainingDataStore
	HistoryStore
	PredictionStore
	Close() error
}

// normalizeTaskType is the stored and queried form of a task type.
func normalizeTaskType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
