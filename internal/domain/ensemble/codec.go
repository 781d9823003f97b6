package ensemble

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// artifactFormat is bumped whenever the serialised layout changes.
const artifactFormat = 1

type artifact struct {
	Format     int       `json:"format"`
	Version    string    `json:"version"`
	Features   []string  `json:"features"`
	Trees      []tree    `json:"trees"`
	Importance []float64 `json:"importance"`
	TrainedAt  time.Time `json:"trainedAt"`
	Metrics    Metrics   `json:"metrics"`
}

// MarshalBinary serialises the model for the registry.
func (m *Model) MarshalBinary() ([]byte, error) {
	return json.Marshal(artifact{
		Format:     artifactFormat,
		Version:    m.version,
		Features:   m.features,
		Trees:      m.trees,
		Importance: m.importance,
		TrainedAt:  m.trainedAt,
		Metrics:    m.metrics,
	})
}

// UnmarshalModel restores a model written by MarshalBinary and checks its shape.
func UnmarshalModel(b []byte) (*Model, error) {
	var a artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("decode model: unsupported format %d", a.Format)
	}
	if len(a.Trees) == 0 || len(a.Importance) != len(a.Features) {
		return nil, fmt.Errorf("decode model %s: corrupt artifact", a.Version)
	}
	d := len(a.Features)
	for ti, t := range a.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("decode model %s: tree %d is empty", a.Version, ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= d ||
				int(n.Left) <= ni || int(n.Left) >= len(t.Nodes) || int(n.Right) <= ni || int(n.Right) >= len(t.Nodes) {
				return nil, fmt.Errorf("decode model %s: tree %d node %d out of range", a.Version, ti, ni)
			}
		}
	}
	return &Model{
		version:    a.Version,
		features:   a.Features,
		trees:      a.Trees,
		importance: a.Importance,
		trainedAt:  a.TrainedAt,
		metrics:    a.Metrics,
	}, nil
}
