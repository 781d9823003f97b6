// Package collector turns consumed task lifecycle events into labelled
// training rows.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// Store is the persistence the collector needs.
type Store interface {
	// SaveEvent returns model.ErrDuplicate when the event id exists.
	SaveEvent(ctx context.Context, ev model.MLTrainingEvent) error
	// LatestAssignment returns model.ErrNotFound when the pair has no open assignment.
	LatestAssignment(ctx context.Context, taskID, userID string) (model.MLTrainingEvent, error)
	MarkProcessed(ctx context.Context, at time.Time, eventIDs ...string) error
	SaveTrainingData(ctx context.Context, row *model.TrainingData) error
	MarkSelected(ctx context.Context, taskID, userID string) error
	// LatestPrediction returns model.ErrNotFound when the pair was never recommended.
	LatestPrediction(ctx context.Context, taskID, userID string) (model.PredictionLog, error)
}

// TaskLookup fetches a task snapshot when the event carries none.
type TaskLookup interface {
	Task(ctx context.Context, id string) (model.TaskProfile, error)
}

// ProfileLookup fetches candidate snapshots when the event carries none.
type ProfileLookup interface {
	Profiles(ctx context.Context, ids []string) (map[string]model.UserProfile, error)
}

// Invalidator forgets cached knowledge about a candidate.
type Invalidator interface {
	InvalidateProfile(userID string)
}

// Collector handles consumed lifecycle events.
type Collector struct {
	store       Store
	tasks       TaskLookup
	profiles    ProfileLookup
	invalidator Invalidator
	weights     Weights
	now         func() time.Time
	logger      logger.Logger
}

// New creates a collector writing to store.
func New(store Store, opts ...Option) *Collector {
	c := &Collector{
		store:   store,
		weights: DefaultWeights(),
		now:     time.Now,
		logger:  logger.Get().Named("collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle records rec and applies its event type's transition. Redelivery of
// an event already stored is processed again; every step is idempotent and a
// completion never writes a second training row.
func (c *Collector) Handle(ctx context.Context, topic string, rec model.EventRecord) error {
	if err := rec.Check(); err != nil {
		return err
	}
	now := c.now().UTC()

	if rec.EventType == model.EventTaskAssignment {
		c.snapshot(ctx, &rec)
	}
	ev := model.MLTrainingEvent{
		EventID:    rec.EventID,
		EventType:  rec.EventType,
		Topic:      topic,
		TaskID:     rec.TaskID,
		UserID:     rec.UserID,
		Record:     rec,
		ReceivedAt: now,
	}
	switch err := c.store.SaveEvent(ctx, ev); {
	case errors.Is(err, model.ErrDuplicate):
		c.logger.Debug(ctx, "event already stored", logger.String("eventID", rec.EventID))
	case err != nil:
		return fmt.Errorf("save event %s: %w", rec.EventID, err)
	}

	switch rec.EventType {
	case model.EventTaskAssignment:
		return c.assignment(ctx, rec)
	case model.EventTaskCompletion:
		return c.completion(ctx, rec, now)
	case model.EventUserProfileUpdate:
		return c.profileUpdate(ctx, rec, now)
	default:
		return fmt.Errorf("%w: unhandled event type %s", model.ErrInvalidEvent, rec.EventType)
	}
}

// assignment stays unprocessed until its completion joins it.
func (c *Collector) assignment(ctx context.Context, rec model.EventRecord) error {
	if rec.AssignmentMethod != model.AssignmentRecommended {
		return nil
	}
	switch err := c.store.MarkSelected(ctx, rec.TaskID, rec.UserID); {
	case errors.Is(err, model.ErrNotFound):
		c.logger.Debug(ctx, "recommended assignment without a served prediction",
			logger.String("taskID", rec.TaskID),
			logger.String("userID", rec.UserID),
		)
	case err != nil:
		return fmt.Errorf("mark selected %s/%s: %w", rec.TaskID, rec.UserID, err)
	}
	return nil
}

func (c *Collector) completion(ctx context.Context, rec model.EventRecord, now time.Time) error {
	var assigned *model.MLTrainingEvent
	switch ev, err := c.store.LatestAssignment(ctx, rec.TaskID, rec.UserID); {
	case err == nil:
		assigned = &ev
	case errors.Is(err, model.ErrNotFound):
		c.logger.Info(ctx, "completion without a recorded assignment",
			logger.String("taskID", rec.TaskID),
			logger.String("userID", rec.UserID),
		)
	default:
		return fmt.Errorf("join assignment %s/%s: %w", rec.TaskID, rec.UserID, err)
	}

	row := c.label(ctx, rec, assigned, now)
	processed := []string{rec.EventID}
	switch err := c.store.SaveTrainingData(ctx, &row); {
	case errors.Is(err, model.ErrDuplicate):
		// The first delivery already joined its assignment.
		c.logger.Debug(ctx, "training row already written", logger.String("eventID", rec.EventID))
	case err != nil:
		return fmt.Errorf("save training data for %s: %w", rec.EventID, err)
	default:
		metrics.RecordTrainingRowCreated()
		if assigned != nil {
			processed = append(processed, assigned.EventID)
		}
	}
	if err := c.store.MarkProcessed(ctx, now, processed...); err != nil {
		return fmt.Errorf("mark processed %v: %w", processed, err)
	}
	return nil
}

func (c *Collector) profileUpdate(ctx context.Context, rec model.EventRecord, now time.Time) error {
	if c.invalidator != nil {
		c.invalidator.InvalidateProfile(rec.UserID)
	}
	c.logger.Debug(ctx, "candidate profile invalidated",
		logger.String("userID", rec.UserID),
		logger.Any("changed", rec.ChangedFields),
	)
	if err := c.store.MarkProcessed(ctx, now, rec.EventID); err != nil {
		return fmt.Errorf("mark processed %s: %w", rec.EventID, err)
	}
	return nil
}

// label builds the training row of a completion.
func (c *Collector) label(ctx context.Context, rec model.EventRecord, assigned *model.MLTrainingEvent, now time.Time) model.TrainingData {
	if assigned != nil {
		if rec.Task == nil {
			rec.Task = assigned.Record.Task
		}
		if rec.Candidate == nil {
			rec.Candidate = assigned.Record.Candidate
		}
	}
	c.snapshot(ctx, &rec)

	task := model.TaskProfile{ID: rec.TaskID, TaskType: rec.TaskType}
	if rec.Task != nil {
		task = *rec.Task
	}
	if task.TaskType == "" {
		task.TaskType = rec.TaskType
	}
	candidate := model.UserProfile{ID: rec.UserID}
	if rec.Candidate != nil {
		candidate = *rec.Candidate
	}

	estimated := rec.EstimatedHours
	if estimated == nil && task.EstimatedHours > 0 {
		estimated = model.Float(task.EstimatedHours)
	}
	status := rec.TaskStatus
	if status == model.TaskStatusUnknown {
		status = model.TaskCompleted
	}
	completedAt := rec.OccurredAt
	if completedAt.IsZero() {
		completedAt = now
	}

	row := model.TrainingData{
		SourceEventID:    rec.EventID,
		TaskID:           rec.TaskID,
		UserID:           rec.UserID,
		Task:             task,
		Candidate:        candidate,
		ActualHours:      rec.ActualHours,
		QualityScore:     rec.QualityScore,
		TimeEfficiency:   TimeEfficiency(estimated, rec.ActualHours),
		TaskStatus:       status,
		PerformanceScore: PerformanceScore(status, estimated, rec.ActualHours, rec.QualityScore, c.weights),
		AssignmentMethod: model.AssignmentUnknown,
		CompletedAt:      completedAt.UTC(),
		DataSource:       model.SourceEvents,
		CreatedAt:        now,
	}
	if assigned != nil {
		a := assigned.Record
		row.AssignmentMethod = a.AssignmentMethod
		row.PredictionConfidence = a.PredictionConfidence
		row.RecommendationRank = a.RecommendationRank
		at := a.OccurredAt
		if at.IsZero() {
			at = assigned.ReceivedAt
		}
		at = at.UTC()
		row.AssignedAt = &at
		if a.AssignmentMethod == model.AssignmentRecommended {
			c.servedScores(ctx, &row)
		}
	}
	return row
}

// servedScores copies the scorer outputs logged when the pair was recommended,
// so training sees the values the predictor saw at serving time.
func (c *Collector) servedScores(ctx context.Context, row *model.TrainingData) {
	p, err := c.store.LatestPrediction(ctx, row.TaskID, row.UserID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			c.logger.Warn(ctx, "served prediction unavailable",
				logger.String("taskID", row.TaskID),
				logger.String("userID", row.UserID),
				logger.Error(err),
			)
		}
		return
	}
	row.ContentScore = model.Float(p.ContentScore)
	row.CollaborativeScore = model.Float(p.CollaborativeScore)
}

// snapshot fills missing task and candidate snapshots from the lookups. A
// failed lookup leaves the snapshot empty; conservative defaults apply later.
func (c *Collector) snapshot(ctx context.Context, rec *model.EventRecord) {
	if rec.Task == nil && c.tasks != nil && rec.TaskID != "" {
		if t, err := c.tasks.Task(ctx, rec.TaskID); err == nil {
			rec.Task = &t
		} else {
			c.logger.Debug(ctx, "task snapshot unavailable", logger.String("taskID", rec.TaskID), logger.Error(err))
		}
	}
	if rec.Candidate == nil && c.profiles != nil {
		got, err := c.profiles.Profiles(ctx, []string{rec.UserID})
		if p, ok := got[rec.UserID]; err == nil && ok && !p.FetchedAt.IsZero() {
			rec.Candidate = &p
		}
	}
}
