package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/okian/assignml/internal/domain/model"
)

// Past tasks of an unknown type count as similar when their skill sets overlap this much.
const similarTaskJaccard = 0.5

// CollaborativeConfig tunes neighbour selection. Weights are blended and need not sum to 1.
type CollaborativeConfig struct {
	Weights       map[string]float64 // keys: skills, department, seniority
	MinSimilarity float64
	Neighbors     int
}

// DefaultCollaborativeConfig mirrors the configuration defaults.
func DefaultCollaborativeConfig() CollaborativeConfig {
	return CollaborativeConfig{
		Weights:       map[string]float64{"skills": 0.60, "department": 0.25, "seniority": 0.15},
		MinSimilarity: 0.3,
		Neighbors:     5,
	}
}

// Collaborative estimates success from how similar past assignees performed on similar tasks.
type Collaborative struct {
	wSkills, wDept, wSeniority float64
	minSim                     float64
	k                          int
}

// NewCollaborative validates cfg and returns a scorer.
func NewCollaborative(cfg CollaborativeConfig) (*Collaborative, error) {
	w, err := normalizeWeights(cfg.Weights, []string{"skills", "department", "seniority"})
	if err != nil {
		return nil, err
	}
	k := cfg.Neighbors
	if k <= 0 {
		k = 5
	}
	return &Collaborative{
		wSkills:    w["skills"],
		wDept:      w["department"],
		wSeniority: w["seniority"],
		minSim:     cfg.MinSimilarity,
		k:          k,
	}, nil
}

type neighbour struct {
	sim  float64
	perf float64
	at   int64
}

// Score returns the similarity-weighted mean performance of the nearest past
// assignees, and whether any neighbour was found. Without neighbours the score
// is exactly NeutralScore.
func (c *Collaborative) Score(f model.CandidateFeatures, history []model.TrainingData) (float64, bool) {
	var nn []neighbour
	for i := range history {
		row := &history[i]
		if !c.relevant(f, row) {
			continue
		}
		sim := c.similarity(f, row)
		if sim < c.minSim || sim <= 0 {
			continue
		}
		nn = append(nn, neighbour{sim: sim, perf: clamp01(row.PerformanceScore), at: row.CompletedAt.UnixNano()})
	}
	if len(nn) == 0 {
		return NeutralScore, false
	}
	sort.SliceStable(nn, func(i, j int) bool {
		if nn[i].sim != nn[j].sim {
			return nn[i].sim > nn[j].sim
		}
		return nn[i].at > nn[j].at
	})
	if len(nn) > c.k {
		nn = nn[:c.k]
	}
	var num, den float64
	for _, n := range nn {
		num += n.sim * n.perf
		den += n.sim
	}
	return clamp01(num / den), true
}

func (c *Collaborative) relevant(f model.CandidateFeatures, row *model.TrainingData) bool {
	rowType := strings.ToLower(strings.TrimSpace(row.Task.TaskType))
	if f.TaskType != "" && rowType != "" {
		return rowType == f.TaskType
	}
	return jaccard(f.RequiredSkills, skillLevels(row.Task.RequiredSkills)) >= similarTaskJaccard
}

func (c *Collaborative) similarity(f model.CandidateFeatures, row *model.TrainingData) float64 {
	sim := c.wSkills * cosine(f.CandidateSkills, skillLevels(row.Candidate.Skills))
	if sameText(f.Department, row.Candidate.Department) {
		sim += c.wDept
	}
	gap := math.Abs(f.Seniority.Level() - row.Candidate.Seniority.Level())
	sim += c.wSeniority * (1 - gap/float64(model.SeniorityDirector-model.SeniorityIntern))
	return clamp01(sim)
}
