package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/okian/assignml/internal/domain/model"
)

// ProfileCache keeps fetched profiles for the freshness window so repeated
// recommendations for the same pool skip the profile service. Degraded
// profiles (zero FetchedAt) are never cached.
type ProfileCache struct {
	src   ProfileSource
	cache *ristretto.Cache[string, model.UserProfile]
	ttl   time.Duration
	now   func() time.Time
}

var _ ProfileSource = (*ProfileCache)(nil)

// NewProfileCache wraps src. maxEntries bounds the cache size; ttl is the
// freshness window.
func NewProfileCache(src ProfileSource, maxEntries int64, ttl time.Duration) (*ProfileCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, model.UserProfile]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create profile cache: %w", err)
	}
	return &ProfileCache{src: src, cache: c, ttl: ttl, now: time.Now}, nil
}

// Profiles serves fresh cached entries and fetches the rest from the source.
func (p *ProfileCache) Profiles(ctx context.Context, ids []string) (map[string]model.UserProfile, error) {
	out := make(map[string]model.UserProfile, len(ids))
	var missing []string
	for _, id := range ids {
		if prof, ok := p.cache.Get(id); ok && p.fresh(prof) {
			out[id] = prof
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := p.src.Profiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, prof := range fetched {
		out[id] = prof
		if !prof.FetchedAt.IsZero() && p.ttl > 0 {
			p.cache.SetWithTTL(id, prof, 1, p.ttl)
		}
	}
	return out, nil
}

// fresh guards against entries whose source timestamp is already older than
// the window even though the cache TTL has not elapsed.
func (p *ProfileCache) fresh(prof model.UserProfile) bool {
	return p.now().Sub(prof.FetchedAt) <= p.ttl
}

// Invalidate drops the cached profile of userID.
func (p *ProfileCache) Invalidate(userID string) {
	p.cache.Del(userID)
}

// Wait blocks until buffered writes are applied.
func (p *ProfileCache) Wait() { p.cache.Wait() }

// Close stops the cache's background goroutines.
func (p *ProfileCache) Close() { p.cache.Close() }
