package trainer

import (
	"time"

	"github.com/okian/assignml/pkg/logger"
)

// Option configures a Trainer.
type Option func(*Trainer)

// WithPublisher announces status changes and deployments through p.
func WithPublisher(p Publisher) Option {
	return func(t *Trainer) {
		t.publisher = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}
