// Package ensemble implements the success predictor: a random forest of CART
// classification trees, its evaluation metrics, and the atomically swappable
// handle the serving path reads from.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

var (
	// ErrEmptyDataset is returned by Fit when there is nothing to learn from.
	ErrEmptyDataset = errors.New("empty dataset")
	// ErrDimension is returned when a vector does not match the model's feature count.
	ErrDimension = errors.New("feature dimension mismatch")
)

// Params are the forest hyper-parameters.
type Params struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures per split; 0 means √d.
	MaxFeatures int
	Seed        int64
	// Balanced weights classes inversely to their frequency.
	Balanced bool
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{Trees: 50, MaxDepth: 8, MinSamplesSplit: 4, Seed: 42, Balanced: true}
}

type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int32   `json:"l"`
	Right     int32   `json:"r"`
	Prob      float64 `json:"p"`
	Leaf      bool    `json:"leaf,omitempty"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

func (t *tree) predict(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Prob
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Model is a trained forest. It is immutable once returned by Fit or UnmarshalModel.
type Model struct {
	version    string
	features   []string
	trees      []tree
	importance []float64
	trainedAt  time.Time
	metrics    Metrics
}

// Version identifies the artifact.
func (m *Model) Version() string { return m.version }

// TrainedAt is when Fit finished.
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

// Metrics are the validation metrics recorded with the artifact.
func (m *Model) Metrics() Metrics { return m.metrics }

// Dim is the expected input length.
func (m *Model) Dim() int { return len(m.features) }

// WithMetrics returns a copy of m carrying validation metrics.
func (m *Model) WithMetrics(mt Metrics) *Model {
	c := *m
	c.metrics = mt
	return &c
}

// Predict returns the mean leaf probability and the vote agreement |2·pos/T − 1|.
func (m *Model) Predict(x []float64) (score, confidence float64, err error) {
	if len(x) != len(m.features) {
		return 0, 0, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), len(m.features))
	}
	var sum float64
	votes := 0
	for i := range m.trees {
		p := m.trees[i].predict(x)
		sum += p
		if p >= 0.5 {
			votes++
		}
	}
	t := float64(len(m.trees))
	return sum / t, math.Abs(2*float64(votes)/t - 1), nil
}

// FeatureImportance returns the normalised mean impurity decrease per feature.
func (m *Model) FeatureImportance() map[string]float64 {
	out := make(map[string]float64, len(m.features))
	for i, name := range m.features {
		out[name] = m.importance[i]
	}
	return out
}

// Fit trains a forest on X and labels y. Fit honours ctx between trees.
func Fit(ctx context.Context, version string, names []string, X [][]float64, y []bool, p Params) (*Model, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, ErrEmptyDataset
	}
	d := len(names)
	for i := range X {
		if len(X[i]) != d {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimension, i, len(X[i]), d)
		}
	}
	if p.Trees <= 0 {
		p.Trees = DefaultParams().Trees
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultParams().MaxDepth
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	mtry := p.MaxFeatures
	if mtry <= 0 || mtry > d {
		mtry = int(math.Max(1, math.Round(math.Sqrt(float64(d)))))
	}

	weights := classWeights(y, p.Balanced)
	m := &Model{
		version:    version,
		features:   append([]string(nil), names...),
		trees:      make([]tree, 0, p.Trees),
		importance: make([]float64, d),
	}
	n := len(X)
	for t := 0; t < p.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(t)))
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		b := &grower{X: X, y: y, w: weights, p: p, mtry: mtry, rng: rng, importance: make([]float64, d)}
		b.grow(sample, 0)
		m.trees = append(m.trees, tree{Nodes: b.nodes})
		for j, v := range b.importance {
			m.importance[j] += v
		}
	}
	normalize(m.importance)
	m.trainedAt = time.Now().UTC()
	return m, nil
}

func classWeights(y []bool, balanced bool) [2]float64 {
	if !balanced {
		return [2]float64{1, 1}
	}
	var pos int
	for _, v := range y {
		if v {
			pos++
		}
	}
	neg := len(y) - pos
	w := [2]float64{1, 1}
	if neg > 0 {
		w[0] = float64(len(y)) / (2 * float64(neg))
	}
	if pos > 0 {
		w[1] = float64(len(y)) / (2 * float64(pos))
	}
	return w
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

type grower struct {
	X          [][]float64
	y          []bool
	w          [2]float64
	p          Params
	mtry       int
	rng        *rand.Rand
	nodes      []node
	importance []float64
}

func (g *grower) weight(i int) float64 {
	if g.y[i] {
		return g.w[1]
	}
	return g.w[0]
}

func (g *grower) counts(idx []int) (pos, total float64) {
	for _, i := range idx {
		w := g.weight(i)
		total += w
		if g.y[i] {
			pos += w
		}
	}
	return pos, total
}

func gini(pos, total float64) float64 {
	if total == 0 {
		return 0
	}
	p := pos / total
	return 2 * p * (1 - p)
}

func (g *grower) grow(idx []int, depth int) int32 {
	pos, total := g.counts(idx)
	id := int32(len(g.nodes))
	g.nodes = append(g.nodes, node{Leaf: true, Prob: pos / total})
	if depth >= g.p.MaxDepth || len(idx) < g.p.MinSamplesSplit || pos == 0 || pos == total {
		return id
	}
	feat, thr, gain, ok := g.bestSplit(idx, pos, total)
	if !ok {
		return id
	}
	var left, right []int
	for _, i := range idx {
		if g.X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	g.importance[feat] += gain
	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[id] = node{Feature: feat, Threshold: thr, Left: l, Right: r, Prob: pos / total}
	return id
}

func (g *grower) bestSplit(idx []int, pos, total float64) (int, float64, float64, bool) {
	parent := total * gini(pos, total)
	bestGain, bestFeat, bestThr := 0.0, -1, 0.0
	order := make([]int, len(idx))
	for _, f := range g.rng.Perm(len(g.importance))[:g.mtry] {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return g.X[order[a]][f] < g.X[order[b]][f] })
		var lPos, lTot float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			w := g.weight(i)
			lTot += w
			if g.y[i] {
				lPos += w
			}
			cur, next := g.X[i][f], g.X[order[k+1]][f]
			if cur == next {
				continue
			}
			rPos, rTot := pos-lPos, total-lTot
			gain := parent - lTot*gini(lPos, lTot) - rTot*gini(rPos, rTot)
			if gain > bestGain+1e-12 {
				bestGain, bestFeat, bestThr = gain, f, (cur+next)/2
			}
		}
	}
	return bestFeat, bestThr, bestGain, bestFeat >= 0
}
