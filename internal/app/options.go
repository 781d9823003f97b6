package service

import (
	"time"

	"github.com/okian/assignml/internal/adapters/registry"
	"github.com/okian/assignml/internal/adapters/repository"
	"github.com/okian/assignml/internal/adapters/upstream"
	"github.com/okian/assignml/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore uses store instead of opening the configured driver.
// The service closes it on Close.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithRegistry uses reg instead of opening the configured path.
func WithRegistry(reg *registry.Registry) Option {
	return func(s *Service) {
		s.registry = reg
	}
}

// WithUpstream replaces the collaborator set built from the configured URLs.
func WithUpstream(set *upstream.Set) Option {
	return func(s *Service) {
		s.upstream = set
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
