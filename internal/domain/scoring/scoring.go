// Package scoring holds the pure scorers of the recommendation pipeline:
// content-based similarity, collaborative filtering and MCDA (TOPSIS + AHP).
// Scorers do no I/O; everything they need is passed in.
package scoring

import (
	"errors"
	"math"
	"strings"

	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/model"
)

// NeutralScore is returned whenever a scorer has nothing to go on.
const NeutralScore = 0.5

// ErrInvalidWeights is returned for negative, non-finite or all-zero weights.
var ErrInvalidWeights = errors.New("invalid weights")

// normalizeWeights validates raw and scales it to sum 1, keeping only known keys.
func normalizeWeights(raw map[string]float64, keys []string) (map[string]float64, error) {
	out := make(map[string]float64, len(keys))
	var sum float64
	for _, k := range keys {
		v := raw[k]
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, ErrInvalidWeights
		}
		out[k] = v
		sum += v
	}
	if sum <= 0 {
		return nil, ErrInvalidWeights
	}
	for k := range out {
		out[k] /= sum
	}
	return out, nil
}

// cosine is the cosine similarity of two sparse vectors.
func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for k, x := range a {
		na += x * x
		if y, ok := b[k]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// jaccard is |a ∩ b| / |a ∪ b| over the key sets.
func jaccard(a, b map[string]float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func skillLevels(s model.Skills) map[string]float64 {
	out := make(map[string]float64, len(s))
	for name, lvl := range s {
		if k := features.NormalizeSkill(name); k != "" && lvl != model.ProficiencyUnknown {
			out[k] = math.Max(out[k], lvl.Level())
		}
	}
	return out
}

func sameText(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
