package trainer

import (
	"context"
	"errors"
	"time"

	"github.com/okian/assignml/pkg/logger"
)

// Starter starts a background run.
type Starter interface {
	Start(ctx context.Context, req Request) (string, error)
}

// Scheduler asks the trainer for a policy-gated run on every tick.
type Scheduler struct {
	trainer  Starter
	interval time.Duration
	req      Request
	logger   logger.Logger
}

// NewScheduler ticks every interval. Scheduled runs never force a retrain.
func NewScheduler(t Starter, interval time.Duration, useSynthetic bool) *Scheduler {
	return &Scheduler{
		trainer:  t,
		interval: interval,
		req:      Request{UseSynthetic: useSynthetic},
		logger:   logger.Get().Named("scheduler"),
	}
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	runID, err := s.trainer.Start(ctx, s.req)
	switch {
	case errors.Is(err, ErrTrainingInProgress):
		s.logger.Debug(ctx, "scheduled run skipped, training in progress")
	case err != nil:
		s.logger.Error(ctx, "scheduled run not started", logger.Error(err))
	default:
		s.logger.Info(ctx, "scheduled run started", logger.String("runID", runID))
	}
}

func (s *Scheduler) String() string { return "retrain-scheduler" }
