package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

const feedbackWindow = 7 * 24 * time.Hour

// PolicyConfig holds the retrain triggers.
type PolicyConfig struct {
	// RetrainAfter is the age of the last run that triggers a retrain.
	RetrainAfter time.Duration
	// NewRows is the number of rows created since the last run that triggers a retrain.
	NewRows int
	// DegradationThreshold is the largest tolerated drop of recent feedback
	// accuracy below the deployed model's validation accuracy.
	DegradationThreshold float64
}

// DefaultPolicyConfig returns weekly retraining, 100 new rows and a 5% drop.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{RetrainAfter: 7 * 24 * time.Hour, NewRows: 100, DegradationThreshold: 0.05}
}

// Decision is the outcome of a policy check.
type Decision struct {
	Retrain bool   `json:"retrain"`
	Reason  string `json:"reason"`
}

// Policy decides whether a scheduled run should train.
type Policy struct {
	store Store
	cfg   PolicyConfig
}

// NewPolicy creates a policy over store.
func NewPolicy(store Store, cfg PolicyConfig) *Policy {
	return &Policy{store: store, cfg: cfg}
}

// Evaluate applies the triggers in order and reports the first that fires.
func (p *Policy) Evaluate(ctx context.Context, now time.Time) (Decision, error) {
	last, err := p.store.LatestHistory(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return Decision{Retrain: true, Reason: "no previous training run"}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("latest history: %w", err)
	}

	if age := now.Sub(last.TrainedAt); p.cfg.RetrainAfter > 0 && age >= p.cfg.RetrainAfter {
		return Decision{Retrain: true, Reason: fmt.Sprintf("last run %.1f days ago", age.Hours()/24)}, nil
	}

	fresh, err := p.store.CountTrainingData(ctx, last.TrainedAt)
	if err != nil {
		return Decision{}, fmt.Errorf("count training data: %w", err)
	}
	if p.cfg.NewRows > 0 && fresh >= p.cfg.NewRows {
		return Decision{Retrain: true, Reason: fmt.Sprintf("%d new training rows", fresh)}, nil
	}

	deployed, err := p.store.LatestDeployed(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return Decision{Reason: "no deployed model and no trigger fired"}, nil
	case err != nil:
		return Decision{}, fmt.Errorf("latest deployed: %w", err)
	}
	avg, n, err := p.store.FeedbackAccuracy(ctx, now.Add(-feedbackWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("feedback accuracy: %w", err)
	}
	if n > 0 && deployed.Accuracy-avg > p.cfg.DegradationThreshold {
		return Decision{Retrain: true, Reason: fmt.Sprintf("feedback accuracy %.3f below deployed %.3f", avg, deployed.Accuracy)}, nil
	}
	return Decision{Reason: "model is current"}, nil
}
