package aggregator

import "github.com/okian/assignml/pkg/logger"

const (
	defaultLimit = 10
	defaultBlend = 0.3
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLimit sets the maximum number of recommendations returned.
func WithLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithExternalBlend sets the share of the external score in the overall score.
func WithExternalBlend(beta float64) Option {
	return func(a *Aggregator) {
		if beta >= 0 && beta <= 1 {
			a.blend = beta
		}
	}
}

// WithExternal enables the external pass for HIGH and CRITICAL tasks.
func WithExternal(e ExternalRecommender) Option {
	return func(a *Aggregator) { a.external = e }
}

// WithLogger overrides the component logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}
