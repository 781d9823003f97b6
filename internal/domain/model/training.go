package model

import (
	"errors"
	"fmt"
	"time"
)

// Data sources of training rows.
const (
	SourceEvents    = "events"
	SourceSynthetic = "synthetic"
)

// TrainingData is one labelled historical (task, candidate) outcome.
type TrainingData struct {
	ID            int64  `json:"id,omitempty"`
	SourceEventID string `json:"sourceEventId"`
	TaskID        string `json:"taskId"`
	UserID        string `json:"userId"`

	Task      TaskProfile `json:"task"`
	Candidate UserProfile `json:"candidate"`

	ActualHours    *float64   `json:"actualHours,omitempty"`
	QualityScore   *float64   `json:"qualityScore,omitempty"`
	TimeEfficiency *float64   `json:"timeEfficiency,omitempty"`
	TaskStatus     TaskStatus `json:"taskStatus"`

	// PerformanceScore is the label in [0,1].
	PerformanceScore float64 `json:"performanceScore"`

	AssignmentMethod     AssignmentMethod `json:"assignmentMethod"`
	PredictionConfidence *float64         `json:"predictionConfidence,omitempty"`
	RecommendationRank   int              `json:"recommendationRank,omitempty"`
	// Scores served at assignment time, reused as meta-features when present.
	ContentScore       *float64 `json:"contentScore,omitempty"`
	CollaborativeScore *float64 `json:"collaborativeScore,omitempty"`

	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt"`
	DataSource  string     `json:"dataSource"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Incomplete counts the optional facts this row is missing, out of IncompleteFields.
func (t *TrainingData) Incomplete() int {
	n := 0
	if t.ActualHours == nil {
		n++
	}
	if t.QualityScore == nil {
		n++
	}
	if t.AssignedAt == nil {
		n++
	}
	if len(t.Task.RequiredSkills) == 0 {
		n++
	}
	if len(t.Candidate.Skills) == 0 {
		n++
	}
	return n
}

// IncompleteFields is the denominator of Incomplete.
const IncompleteFields = 5

// ModelTrainingHistory is the append-only record of one training run.
type ModelTrainingHistory struct {
	ID                  int64              `json:"id,omitempty"`
	RunID               string             `json:"runId"`
	ModelVersion        string             `json:"modelVersion,omitempty"`
	TrainedAt           time.Time          `json:"trainedAt"`
	Accuracy            float64            `json:"accuracy"`
	F1Score             float64            `json:"f1Score"`
	Precision           float64            `json:"precision"`
	Recall              float64            `json:"recall"`
	AccuracyImprovement float64            `json:"accuracyImprovement"`
	F1Improvement       float64            `json:"f1Improvement"`
	TrainingRecords     int                `json:"trainingRecords"`
	ValidationRecords   int                `json:"validationRecords"`
	DeploymentStatus    DeploymentStatus   `json:"deploymentStatus"`
	DurationSeconds     float64            `json:"durationSeconds"`
	ErrorMessage        string             `json:"errorMessage,omitempty"`
	AdditionalMetrics   map[string]float64 `json:"additionalMetrics,omitempty"`
}

// MLTrainingEvent is a raw consumed event kept for audit and later joins.
type MLTrainingEvent struct {
	EventID     string      `json:"eventId"`
	EventType   EventType   `json:"eventType"`
	Topic       string      `json:"topic"`
	TaskID      string      `json:"taskId,omitempty"`
	UserID      string      `json:"userId,omitempty"`
	Record      EventRecord `json:"record"`
	Processed   bool        `json:"processed"`
	ReceivedAt  time.Time   `json:"receivedAt"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
}

// EventRecord is the wire payload of every consumed lifecycle event.
type EventRecord struct {
	EventID    string    `json:"eventId" validate:"required,max=128"`
	EventType  EventType `json:"eventType"`
	OccurredAt time.Time `json:"occurredAt"`
	TaskID     string    `json:"taskId,omitempty" validate:"max=128"`
	UserID     string    `json:"userId" validate:"required,max=128"`
	TaskType   string    `json:"taskType,omitempty"`

	// Assignment facts.
	AssignmentMethod     AssignmentMethod `json:"assignmentMethod,omitempty"`
	PredictionConfidence *float64         `json:"predictionConfidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	RecommendationRank   int              `json:"recommendationRank,omitempty" validate:"gte=0"`

	// Completion facts.
	EstimatedHours *float64   `json:"estimatedHours,omitempty" validate:"omitempty,gte=0"`
	ActualHours    *float64   `json:"actualHours,omitempty" validate:"omitempty,gte=0"`
	QualityScore   *float64   `json:"qualityScore,omitempty" validate:"omitempty,gte=0,lte=5"`
	TaskStatus     TaskStatus `json:"taskStatus,omitempty"`

	// Optional snapshots embedded by the producer.
	Task      *TaskProfile `json:"task,omitempty"`
	Candidate *UserProfile `json:"candidate,omitempty"`

	// Profile update facts.
	ChangedFields []string `json:"changedFields,omitempty"`
}

// ErrInvalidEvent marks an event that can never be processed.
var ErrInvalidEvent = errors.New("invalid event")

// Check enforces the per-type requirements struct tags cannot express.
func (e *EventRecord) Check() error {
	switch e.EventType {
	case EventTaskAssignment, EventTaskCompletion:
		if e.TaskID == "" {
			return fmt.Errorf("%w: %s requires taskId", ErrInvalidEvent, e.EventType)
		}
	case EventUserProfileUpdate:
	default:
		return fmt.Errorf("%w: unknown event type", ErrInvalidEvent)
	}
	return nil
}
