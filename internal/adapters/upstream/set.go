package upstream

import (
	"context"
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

// guardedProfiles selects between a live and a degraded ProfileSource.
type guardedProfiles struct {
	b        *Breaker
	live     ProfileSource
	degraded ProfileSource
}

func (g *guardedProfiles) Profiles(ctx context.Context, ids []string) (map[string]model.UserProfile, error) {
	var live func(context.Context) (map[string]model.UserProfile, error)
	if g.live != nil {
		live = func(ctx context.Context) (map[string]model.UserProfile, error) { return g.live.Profiles(ctx, ids) }
	}
	return guard(ctx, g.b, live, func(ctx context.Context) (map[string]model.UserProfile, error) {
		return g.degraded.Profiles(ctx, ids)
	})
}

type guardedTasks struct {
	b        *Breaker
	live     TaskSource
	degraded TaskSource
}

func (g *guardedTasks) Task(ctx context.Context, id string) (model.TaskProfile, error) {
	var live func(context.Context) (model.TaskProfile, error)
	if g.live != nil {
		live = func(ctx context.Context) (model.TaskProfile, error) { return g.live.Task(ctx, id) }
	}
	return guard(ctx, g.b, live, func(ctx context.Context) (model.TaskProfile, error) {
		return g.degraded.Task(ctx, id)
	})
}

type guardedWorkloads struct {
	b        *Breaker
	live     WorkloadSource
	degraded WorkloadSource
}

func (g *guardedWorkloads) Workloads(ctx context.Context, ids []string) (map[string]model.Workload, error) {
	var live func(context.Context) (map[string]model.Workload, error)
	if g.live != nil {
		live = func(ctx context.Context) (map[string]model.Workload, error) { return g.live.Workloads(ctx, ids) }
	}
	return guard(ctx, g.b, live, func(ctx context.Context) (map[string]model.Workload, error) {
		return g.degraded.Workloads(ctx, ids)
	})
}

type guardedRecommender struct {
	b        *Breaker
	live     ExternalRecommender
	degraded ExternalRecommender
}

func (g *guardedRecommender) Recommend(ctx context.Context, task model.TaskProfile, cands []model.CandidateFeatures) ([]model.ExternalScore, error) {
	var live func(context.Context) ([]model.ExternalScore, error)
	if g.live != nil {
		live = func(ctx context.Context) ([]model.ExternalScore, error) { return g.live.Recommend(ctx, task, cands) }
	}
	return guard(ctx, g.b, live, func(ctx context.Context) ([]model.ExternalScore, error) {
		return g.degraded.Recommend(ctx, task, cands)
	})
}

// GuardProfiles puts live behind b with degraded as the fallback. A nil live always degrades.
func GuardProfiles(b *Breaker, live, degraded ProfileSource) ProfileSource {
	return &guardedProfiles{b: b, live: live, degraded: degraded}
}

// GuardTasks puts live behind b with degraded as the fallback.
func GuardTasks(b *Breaker, live, degraded TaskSource) TaskSource {
	return &guardedTasks{b: b, live: live, degraded: degraded}
}

// GuardWorkloads puts live behind b with degraded as the fallback.
func GuardWorkloads(b *Breaker, live, degraded WorkloadSource) WorkloadSource {
	return &guardedWorkloads{b: b, live: live, degraded: degraded}
}

// GuardRecommender puts live behind b with degraded as the fallback.
func GuardRecommender(b *Breaker, live, degraded ExternalRecommender) ExternalRecommender {
	return &guardedRecommender{b: b, live: live, degraded: degraded}
}

// Options configure the collaborator set. Empty profile, task and workload URLs
// leave the capability degraded; an empty ExternalURL leaves External nil.
type Options struct {
	ProfileURL     string
	TaskURL        string
	WorkloadURL    string
	ExternalURL    string
	Timeout        time.Duration
	Breaker        BreakerSettings
	ProfileTTL     time.Duration
	ProfileEntries int64
}

// Set bundles every capability the engine reads from.
type Set struct {
	Profiles  ProfileSource
	Tasks     TaskSource
	Workloads WorkloadSource
	// External is nil when no external recommender is configured.
	External ExternalRecommender

	cache    *ProfileCache
	breakers []*Breaker
}

// NewSet wires the live implementations for every configured URL behind
// their own breaker.
func NewSet(o Options) (*Set, error) {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	s := &Set{}

	pb := NewBreaker(CapabilityProfiles, o.Breaker)
	var liveProfiles ProfileSource
	if o.ProfileURL != "" {
		liveProfiles = NewHTTPProfiles(o.ProfileURL, o.Timeout)
	}
	cache, err := NewProfileCache(GuardProfiles(pb, liveProfiles, DegradedProfiles{}), o.ProfileEntries, o.ProfileTTL)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	s.Profiles = cache

	tb := NewBreaker(CapabilityTasks, o.Breaker)
	var liveTasks TaskSource
	if o.TaskURL != "" {
		liveTasks = NewHTTPTasks(o.TaskURL, o.Timeout)
	}
	s.Tasks = GuardTasks(tb, liveTasks, DegradedTasks{})

	wb := NewBreaker(CapabilityWorkloads, o.Breaker)
	var liveWorkloads WorkloadSource
	if o.WorkloadURL != "" {
		liveWorkloads = NewHTTPWorkloads(o.WorkloadURL, o.Timeout)
	}
	s.Workloads = GuardWorkloads(wb, liveWorkloads, DegradedWorkloads{})

	s.breakers = []*Breaker{pb, tb, wb}

	// Without a URL there is no external pass at all, rather than a degraded one.
	if o.ExternalURL != "" {
		eb := NewBreaker(CapabilityExternal, o.Breaker)
		s.External = GuardRecommender(eb, NewHTTPRecommender(o.ExternalURL, o.Timeout), DegradedRecommender{})
		s.breakers = append(s.breakers, eb)
	}
	return s, nil
}

// InvalidateProfile drops any cached profile of userID.
func (s *Set) InvalidateProfile(userID string) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}

// States reports each breaker's state by capability name.
func (s *Set) States() map[string]string {
	out := make(map[string]string, len(s.breakers))
	for _, b := range s.breakers {
		out[b.Name()] = b.State()
	}
	return out
}

// Close releases the profile cache.
func (s *Set) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}
