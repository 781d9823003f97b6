// Package upstream holds the read-only collaborators of the engine: the profile,
// task and workload services and the external recommender. Every capability
// has a live HTTP implementation and a degraded one; a circuit breaker picks
// between them per call.
package upstream

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/okian/assignml/internal/domain/aggregator"
	"github.com/okian/assignml/internal/domain/model"
)

var (
	// ErrUnavailable is returned when a capability has no usable answer.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrNotFound is returned when the owning service does not know the id.
	ErrNotFound = errors.New("upstream entity not found")
	// ErrMalformed is returned when a service answers with a body that cannot be read.
	ErrMalformed = errors.New("malformed upstream response")
)

// Capability names used in logs, metrics and the degraded list of a response.
const (
	CapabilityProfiles  = "profiles"
	CapabilityTasks     = "tasks"
	CapabilityWorkloads = "workloads"
	CapabilityExternal  = "external"
)

// ProfileSource returns candidate profiles by user id. Unknown ids are omitted.
type ProfileSource interface {
	Profiles(ctx context.Context, ids []string) (map[string]model.UserProfile, error)
}

// TaskSource returns a task profile by id.
type TaskSource interface {
	Task(ctx context.Context, id string) (model.TaskProfile, error)
}

// WorkloadSource returns the current workload of candidates. Unknown ids are omitted.
type WorkloadSource interface {
	Workloads(ctx context.Context, ids []string) (map[string]model.Workload, error)
}

// ExternalRecommender scores candidates with an outside recommender.
type ExternalRecommender = aggregator.ExternalRecommender

// Degradations collects the capabilities that answered in degraded mode
// while serving one request.
type Degradations struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

type degradationsKey struct{}

// WithDegradations attaches a fresh collector to ctx.
func WithDegradations(ctx context.Context) (context.Context, *Degradations) {
	d := &Degradations{seen: make(map[string]struct{})}
	return context.WithValue(ctx, degradationsKey{}, d), d
}

// Names returns the degraded capabilities in sorted order.
func (d *Degradations) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.seen))
	for name := range d.seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Note records name as degraded on the collector carried by ctx, if any.
func Note(ctx context.Context, name string) {
	d, ok := ctx.Value(degradationsKey{}).(*Degradations)
	if !ok {
		return
	}
	d.mu.Lock()
	d.seen[name] = struct{}{}
	d.mu.Unlock()
}
