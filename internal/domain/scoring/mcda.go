package scoring

import (
	"math"

	"github.com/okian/assignml/internal/domain/model"
)

// Criterion indexes the MCDA decision matrix columns.
type Criterion int

const (
	SkillMatch Criterion = iota
	Workload
	Performance
	Availability
	Collaboration
	numCriteria
)

var criterionKeys = [numCriteria]string{"skill_match", "workload", "performance", "availability", "collaboration"}

// String returns the configuration key of the criterion.
func (c Criterion) String() string {
	if c < 0 || c >= numCriteria {
		return "unknown"
	}
	return criterionKeys[c]
}

// cost criteria are better when smaller.
func (c Criterion) cost() bool { return c == Workload }

// Varying below this spread a column counts as tied.
const zeroVariance = 1e-12

// Weights are AHP criterion weights summing to 1.
type Weights [numCriteria]float64

// NewWeights validates and normalises weights keyed by criterion name.
func NewWeights(raw map[string]float64) (Weights, error) {
	norm, err := normalizeWeights(raw, criterionKeys[:])
	if err != nil {
		return Weights{}, err
	}
	var w Weights
	for i, k := range criterionKeys {
		w[i] = norm[k]
	}
	return w, nil
}

// MCDAResult is the outcome for one candidate.
type MCDAResult struct {
	Tops     float64
	AHP      float64
	Criteria model.CriteriaScores
}

// MCDA ranks a pool with TOPSIS and scores each candidate with the AHP linear sum.
type MCDA struct {
	weights Weights
}

// NewMCDA returns a scorer using w.
func NewMCDA(w Weights) *MCDA { return &MCDA{weights: w} }

// Criteria returns the raw criterion values of f. Workload is utilisation (a cost).
func Criteria(f model.CandidateFeatures) [numCriteria]float64 {
	return [numCriteria]float64{
		SkillMatch:    clamp01(f.BaseSkillMatchScore),
		Workload:      clamp01(f.Utilization),
		Performance:   clamp01(0.7*f.PerformanceScore + 0.3*f.TaskSuccessRate),
		Availability:  clamp01(f.AvailabilityScore),
		Collaboration: clamp01(f.CollaborationScore),
	}
}

// AHP is the weighted sum of criteria with workload expressed as a benefit.
func (m *MCDA) AHP(f model.CandidateFeatures) float64 {
	x := Criteria(f)
	var s float64
	for j := Criterion(0); j < numCriteria; j++ {
		v := x[j]
		if j.cost() {
			v = 1 - v
		}
		s += m.weights[j] * v
	}
	return clamp01(s)
}

// Score evaluates the whole pool; the result is index-aligned with pool.
func (m *MCDA) Score(pool []model.CandidateFeatures) []MCDAResult {
	n := len(pool)
	out := make([]MCDAResult, n)
	if n == 0 {
		return out
	}
	matrix := make([][numCriteria]float64, n)
	for i := range pool {
		matrix[i] = Criteria(pool[i])
		out[i].AHP = m.AHP(pool[i])
		out[i].Criteria = model.CriteriaScores{
			SkillMatch:    matrix[i][SkillMatch],
			Workload:      1 - matrix[i][Workload],
			Performance:   matrix[i][Performance],
			Availability:  matrix[i][Availability],
			Collaboration: matrix[i][Collaboration],
		}
	}

	weights, active := m.activeWeights(matrix)
	if len(active) == 0 {
		for i := range out {
			out[i].Tops = 1
		}
		return out
	}

	// Vector-normalise and weight each active column.
	weighted := make([][numCriteria]float64, n)
	for _, j := range active {
		var norm float64
		for i := range matrix {
			norm += matrix[i][j] * matrix[i][j]
		}
		norm = math.Sqrt(norm)
		for i := range matrix {
			weighted[i][j] = weights[j] * matrix[i][j] / norm
		}
	}

	var best, worst [numCriteria]float64
	for _, j := range active {
		lo, hi := weighted[0][j], weighted[0][j]
		for i := 1; i < n; i++ {
			lo = math.Min(lo, weighted[i][j])
			hi = math.Max(hi, weighted[i][j])
		}
		if j.cost() {
			best[j], worst[j] = lo, hi
		} else {
			best[j], worst[j] = hi, lo
		}
	}

	for i := range weighted {
		var dPlus, dMinus float64
		for _, j := range active {
			dPlus += sq(weighted[i][j] - best[j])
			dMinus += sq(weighted[i][j] - worst[j])
		}
		dPlus, dMinus = math.Sqrt(dPlus), math.Sqrt(dMinus)
		if dPlus+dMinus == 0 {
			out[i].Tops = 1
			continue
		}
		out[i].Tops = clamp01(dMinus / (dPlus + dMinus))
	}
	return out
}

// activeWeights drops tied columns and redistributes their weight proportionally
// over the rest. Columns with zero weight are dropped as well.
func (m *MCDA) activeWeights(matrix [][numCriteria]float64) (Weights, []Criterion) {
	var w Weights
	var active []Criterion
	var sum float64
	for j := Criterion(0); j < numCriteria; j++ {
		if m.weights[j] <= 0 {
			continue
		}
		lo, hi := matrix[0][j], matrix[0][j]
		for i := 1; i < len(matrix); i++ {
			lo = math.Min(lo, matrix[i][j])
			hi = math.Max(hi, matrix[i][j])
		}
		if hi-lo <= zeroVariance {
			continue
		}
		active = append(active, j)
		sum += m.weights[j]
	}
	for _, j := range active {
		w[j] = m.weights[j] / sum
	}
	return w, active
}

func sq(x float64) float64 { return x * x }
