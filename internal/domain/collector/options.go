package collector

import "time"

// Option configures a Collector.
type Option func(*Collector)

// WithTasks fetches missing task snapshots from l.
func WithTasks(l TaskLookup) Option {
	return func(c *Collector) { c.tasks = l }
}

// WithProfiles fetches missing candidate snapshots from l.
func WithProfiles(l ProfileLookup) Option {
	return func(c *Collector) { c.profiles = l }
}

// WithInvalidator is told about every profile update.
func WithInvalidator(i Invalidator) Option {
	return func(c *Collector) { c.invalidator = i }
}

// WithWeights sets the time and quality blend of the performance score.
func WithWeights(w Weights) Option {
	return func(c *Collector) { c.weights = w }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}
