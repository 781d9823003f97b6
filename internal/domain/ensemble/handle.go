package ensemble

import (
	"sync/atomic"
)

// NeutralScore is the cold-start output of the predictor.
const NeutralScore = 0.5

// Prediction is the predictor output for one feature vector.
type Prediction struct {
	Score      float64
	Confidence float64
	Version    string
	// Available is false when no model is loaded or the model rejected the input.
	Available bool
}

// Handle holds the live model. Readers take a snapshot with Load and keep using
// it for the whole request; Swap replaces the pointer without touching the old model.
type Handle struct {
	current atomic.Pointer[Model]
}

// NewHandle returns an empty handle (cold start).
func NewHandle() *Handle { return &Handle{} }

// Load returns the model active at call time, or nil.
func (h *Handle) Load() *Model { return h.current.Load() }

// Swap installs m and returns the previous model.
func (h *Handle) Swap(m *Model) *Model { return h.current.Swap(m) }

// Version of the live model, or "" during cold start.
func (h *Handle) Version() string {
	if m := h.Load(); m != nil {
		return m.Version()
	}
	return ""
}

// Predict scores x against m. A nil model or a dimension mismatch yields the
// neutral score with zero confidence.
func Predict(m *Model, x []float64) Prediction {
	if m == nil {
		return Prediction{Score: NeutralScore}
	}
	score, conf, err := m.Predict(x)
	if err != nil {
		return Prediction{Score: NeutralScore, Version: m.Version()}
	}
	return Prediction{Score: score, Confidence: conf, Version: m.Version(), Available: true}
}
