package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

// ModelUpdated announces a newly deployed model.
type ModelUpdated struct {
	Version    string           `json:"version"`
	Metrics    ensemble.Metrics `json:"metrics"`
	DeployedAt time.Time        `json:"deployedAt"`
}

// PredictionEvent announces one served prediction.
type PredictionEvent struct {
	TaskID       string  `json:"taskId"`
	UserID       string  `json:"userId"`
	Rank         int     `json:"rank"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion,omitempty"`
}

// TrainingStatus reports the progress of a training run.
type TrainingStatus struct {
	RunID   string    `json:"runId"`
	Status  string    `json:"status"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// Producer publishes the engine's own events.
type Producer struct {
	pub    message.Publisher
	topics Topics
	now    func() time.Time
	logger logger.Logger
}

// NewProducer publishes through b.
func NewProducer(b *Bus) *Producer {
	return &Producer{
		pub:    b.Publisher(),
		topics: b.Topics(),
		now:    time.Now,
		logger: logger.Get().Named("producer"),
	}
}

func (p *Producer) publish(ctx context.Context, topic string, v any) error {
	msg, err := encode(ctx, v)
	if err != nil {
		return err
	}
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishModelUpdated announces a deployed model version.
func (p *Producer) PublishModelUpdated(ctx context.Context, version string, m ensemble.Metrics, deployedAt time.Time) error {
	return p.publish(ctx, p.topics.ModelUpdated, ModelUpdated{Version: version, Metrics: m, DeployedAt: deployedAt})
}

// PublishTrainingStatus reports a run's status.
func (p *Producer) PublishTrainingStatus(ctx context.Context, runID, status, details string) error {
	return p.publish(ctx, p.topics.TrainingStatus, TrainingStatus{RunID: runID, Status: status, Details: details, At: p.now()})
}

// PublishPredictions sends one prediction event per log in a single publish call.
func (p *Producer) PublishPredictions(ctx context.Context, logs []model.PredictionLog) error {
	msgs := make([]*message.Message, 0, len(logs))
	for i := range logs {
		msg, err := encode(ctx, PredictionEvent{
			TaskID:       logs[i].TaskID,
			UserID:       logs[i].UserID,
			Rank:         logs[i].RecommendationRank,
			Confidence:   logs[i].ConfidenceScore,
			ModelVersion: logs[i].ModelVersion,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.pub.Publish(p.topics.Prediction, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topics.Prediction, err)
	}
	return nil
}

// ErrUnroutable is returned for a record whose event type has no topic.
var ErrUnroutable = errors.New("event type has no topic")

// TopicFor returns the dedicated topic of an event type.
func (t Topics) TopicFor(et model.EventType) (string, error) {
	switch et {
	case model.EventTaskAssignment:
		return t.TaskAssignment, nil
	case model.EventTaskCompletion:
		return t.TaskCompletion, nil
	case model.EventUserProfileUpdate:
		return t.ProfileUpdate, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnroutable, et)
	}
}

// PublishEvent forwards an ingress lifecycle event to the topic of its type.
func (p *Producer) PublishEvent(ctx context.Context, rec model.EventRecord) error {
	topic, err := p.topics.TopicFor(rec.EventType)
	if err != nil {
		return err
	}
	msg, err := encode(ctx, rec)
	if err != nil {
		return err
	}
	msg.Metadata.Set(metaEventType, rec.EventType.String())
	msg.Metadata.Set(metaEventID, rec.EventID)
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug(ctx, "event forwarded", logger.String("topic", topic), logger.String("eventID", rec.EventID))
	return nil
}
