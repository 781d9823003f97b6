// Package registry persists trained model artifacts in BadgerDB and tracks
// which version is deployed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/okian/assignml/internal/domain/ensemble"
)

// Key layout.
const (
	modelKeyPrefix = "model/"
	metaKeyPrefix  = "meta/"
	deployedKey    = "deployed"
)

var (
	// ErrNotFound is returned when a version or the deployed pointer is missing.
	ErrNotFound = errors.New("model not found")
	// ErrNoVersion is returned when saving a model without a version.
	ErrNoVersion = errors.New("model has no version")
)

// Entry describes a stored artifact without decoding it.
type Entry struct {
	Version   string           `json:"version"`
	TrainedAt time.Time        `json:"trainedAt"`
	SavedAt   time.Time        `json:"savedAt"`
	Metrics   ensemble.Metrics `json:"metrics"`
	Size      int              `json:"size"`
}

// Registry stores model artifacts keyed by version.
type Registry struct {
	db    *badger.DB
	owned bool
}

// Open opens a registry rooted at dir. An empty dir keeps everything in memory.
func Open(dir string) (*Registry, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open model registry: %w", err)
	}
	return &Registry{db: db, owned: true}, nil
}

// New wraps an existing database. Close leaves db open.
func New(db *badger.DB) *Registry {
	return &Registry{db: db}
}

// Close releases the database if the registry opened it.
func (r *Registry) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}

// Save writes m under its version, replacing any previous artifact with the same version.
func (r *Registry) Save(_ context.Context, m *ensemble.Model) error {
	if m == nil || m.Version() == "" {
		return ErrNoVersion
	}
	blob, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode model %s: %w", m.Version(), err)
	}
	meta, err := json.Marshal(Entry{
		Version:   m.Version(),
		TrainedAt: m.TrainedAt(),
		SavedAt:   time.Now().UTC(),
		Metrics:   m.Metrics(),
		Size:      len(blob),
	})
	if err != nil {
		return fmt.Errorf("encode model %s metadata: %w", m.Version(), err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(modelKeyPrefix+m.Version()), blob); err != nil {
			return fmt.Errorf("set model: %w", err)
		}
		if err := txn.Set([]byte(metaKeyPrefix+m.Version()), meta); err != nil {
			return fmt.Errorf("set model metadata: %w", err)
		}
		return nil
	})
}

// Load decodes the artifact stored for version.
func (r *Registry) Load(_ context.Context, version string) (*ensemble.Model, error) {
	var blob []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(modelKeyPrefix + version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get model: %w", err)
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ensemble.UnmarshalModel(blob)
}

// SetDeployed points the deployed marker at an already saved version.
func (r *Registry) SetDeployed(_ context.Context, version string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(modelKeyPrefix + version)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get model: %w", err)
		}
		return txn.Set([]byte(deployedKey), []byte(version))
	})
}

// DeployedVersion returns the version the deployed marker points at.
func (r *Registry) DeployedVersion(_ context.Context) (string, error) {
	var version string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(deployedKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get deployed marker: %w", err)
		}
		return item.Value(func(val []byte) error {
			version = string(val)
			return nil
		})
	})
	return version, err
}

// Deployed loads the deployed model.
func (r *Registry) Deployed(ctx context.Context) (*ensemble.Model, error) {
	version, err := r.DeployedVersion(ctx)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, version)
}

// List returns the metadata of every saved version, newest first.
func (r *Registry) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(metaKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode metadata %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].SavedAt.Equal(entries[j].SavedAt) {
			return entries[i].SavedAt.After(entries[j].SavedAt)
		}
		return entries[i].Version > entries[j].Version
	})
	return entries, nil
}

// Prune deletes all but the newest keep versions. The deployed version is never removed.
func (r *Registry) Prune(ctx context.Context, keep int) (int, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	deployed, err := r.DeployedVersion(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	removed := 0
	err = r.db.Update(func(txn *badger.Txn) error {
		for i, e := range entries {
			if i < keep || e.Version == deployed {
				continue
			}
			if err := txn.Delete([]byte(modelKeyPrefix + e.Version)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(metaKeyPrefix + e.Version)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune models: %w", err)
	}
	return removed, nil
}
