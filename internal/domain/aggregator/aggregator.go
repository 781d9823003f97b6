// Package aggregator merges the per-candidate signals into the ranked and
// explained recommendation list.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/scoring"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// Signal keys accepted in weight maps.
const (
	SignalContent       = "content"
	SignalCollaborative = "collaborative"
	SignalMCDA          = "mcda"
	SignalEnsemble      = "ensemble"
)

var signalKeys = [4]string{SignalContent, SignalCollaborative, SignalMCDA, SignalEnsemble}

// Reason shown when no criterion is strong enough to cite.
const fallbackReason = "best available match for the current pool"

const (
	strongCriterion   = 0.6
	confidentEnsemble = 0.6
)

// ExternalRecommender is the expensive second opinion requested for urgent tasks.
type ExternalRecommender interface {
	Recommend(ctx context.Context, task model.TaskProfile, candidates []model.CandidateFeatures) ([]model.ExternalScore, error)
}

// Input carries every signal computed for one candidate.
type Input struct {
	Features      model.CandidateFeatures
	Content       float64
	Collaborative float64
	MCDA          scoring.MCDAResult
	Prediction    ensemble.Prediction
}

// Result is the aggregated outcome of one request.
type Result struct {
	Recommendations []model.AssignmentRecommendation
	// External reports whether an external pass was merged into the overall scores.
	External bool
	// ExternalErr is the reason the external pass was not merged, if one was attempted.
	ExternalErr error
}

// Aggregator combines the four signals.
type Aggregator struct {
	weights  [4]float64
	limit    int
	blend    float64
	external ExternalRecommender
	log      logger.Logger
}

// New validates the default signal weights and returns an Aggregator.
func New(weights map[string]float64, opts ...Option) (*Aggregator, error) {
	w, err := NormalizeWeights(weights)
	if err != nil {
		return nil, err
	}
	a := &Aggregator{weights: w, limit: defaultLimit, blend: defaultBlend}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Named("aggregator")
	}
	return a, nil
}

// NormalizeWeights checks a signal weight map and scales it to sum 1.
// Missing keys weigh 0; unknown keys are rejected.
func NormalizeWeights(raw map[string]float64) ([4]float64, error) {
	var w [4]float64
	var sum float64
	for k, v := range raw {
		idx := -1
		for i, key := range signalKeys {
			if k == key {
				idx = i
			}
		}
		if idx < 0 {
			return w, fmt.Errorf("%w: unknown signal %q", ErrInvalidWeights, k)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return w, fmt.Errorf("%w: %s=%v", ErrInvalidWeights, k, v)
		}
		w[idx] = v
		sum += v
	}
	if sum <= 0 {
		return w, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	for i := range w {
		w[i] /= sum
	}
	return w, nil
}

// Aggregate ranks in. override, when non-nil, replaces the default weights for
// this request only; limit <= 0 keeps the configured maximum.
func (a *Aggregator) Aggregate(ctx context.Context, task model.TaskProfile, in []Input, override map[string]float64, limit int) (Result, error) {
	base := a.weights
	if override != nil {
		w, err := NormalizeWeights(override)
		if err != nil {
			return Result{}, err
		}
		base = w
	}

	recs := make([]model.AssignmentRecommendation, len(in))
	for i := range in {
		recs[i] = a.combine(task, &in[i], base)
	}

	var res Result
	if task.Priority.RequiresExternalPass() && a.external != nil && len(in) > 0 {
		res.External, res.ExternalErr = a.mergeExternal(ctx, task, in, recs)
	}

	rank(recs)
	if limit <= 0 || limit > a.limit {
		limit = a.limit
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	res.Recommendations = recs
	return res, nil
}

func (a *Aggregator) combine(task model.TaskProfile, in *Input, base [4]float64) model.AssignmentRecommendation {
	w := base
	if in.Prediction.Available {
		w[3] *= 0.5 + 0.5*in.Prediction.Confidence
	} else {
		w[3] = 0
	}
	sum := w[0] + w[1] + w[2] + w[3]
	if sum <= 0 {
		// Only the ensemble was weighted and it is unavailable.
		w = [4]float64{1.0 / 3, 1.0 / 3, 1.0 / 3, 0}
		sum = 1
	}
	signals := [4]float64{
		clamp01(in.Content),
		clamp01(in.Collaborative),
		clamp01(in.MCDA.Tops),
		clamp01(in.Prediction.Score),
	}
	var hybrid float64
	for i := range signals {
		hybrid += w[i] / sum * signals[i]
	}
	hybrid = clamp01(hybrid)

	rec := model.AssignmentRecommendation{
		TaskID:                      task.ID,
		UserID:                      in.Features.UserID,
		ContentBasedScore:           signals[0],
		CollaborativeFilteringScore: signals[1],
		TopsScore:                   signals[2],
		AHPScore:                    clamp01(in.MCDA.AHP),
		RFPredictionScore:           signals[3],
		RFConfidence:                clamp01(in.Prediction.Confidence),
		HybridScore:                 hybrid,
		OverallScore:                hybrid,
		Criteria:                    in.MCDA.Criteria,
		CurrentUtilization:          in.Features.Utilization,
		ModelVersion:                in.Prediction.Version,
	}
	rec.Reason = Reason(in.MCDA.Criteria, in.Prediction)
	return rec
}

func (a *Aggregator) mergeExternal(ctx context.Context, task model.TaskProfile, in []Input, recs []model.AssignmentRecommendation) (bool, error) {
	pool := make([]model.CandidateFeatures, len(in))
	for i := range in {
		pool[i] = in[i].Features
	}
	scores, err := a.external.Recommend(ctx, task, pool)
	if err != nil {
		metrics.RecordExternalPass("fallback")
		a.log.Warn(ctx, "external recommendation pass failed, using local scores",
			logger.String("task_id", task.ID), logger.Error(err))
		return false, err
	}
	byUser := make(map[string]model.ExternalScore, len(scores))
	for _, s := range scores {
		byUser[s.UserID] = s
	}
	merged := 0
	for i := range recs {
		s, ok := byUser[recs[i].UserID]
		if !ok || math.IsNaN(s.Score) {
			continue
		}
		ext := clamp01(s.Score)
		recs[i].ExternalScore = &ext
		recs[i].OverallScore = clamp01((1-a.blend)*recs[i].HybridScore + a.blend*ext)
		if r := strings.TrimSpace(s.Reason); r != "" {
			recs[i].Reason = r
		}
		merged++
	}
	metrics.RecordExternalPass("merged")
	a.log.Debug(ctx, "external recommendation pass merged",
		logger.String("task_id", task.ID), logger.Int("merged", merged))
	return merged > 0, nil
}

// rank sorts recs by overall score, then ensemble confidence, then lower
// utilisation, then user id, and assigns 1-based ranks.
func rank(recs []model.AssignmentRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		if a.RFConfidence != b.RFConfidence {
			return a.RFConfidence > b.RFConfidence
		}
		if a.CurrentUtilization != b.CurrentUtilization {
			return a.CurrentUtilization < b.CurrentUtilization
		}
		return a.UserID < b.UserID
	})
	for i := range recs {
		recs[i].Rank = i + 1
	}
}

// Reason names the two strongest criteria at or above 0.6.
func Reason(c model.CriteriaScores, p ensemble.Prediction) string {
	type factor struct {
		label string
		value float64
	}
	factors := []factor{
		{"strong skill match", c.SkillMatch},
		{"low current workload", c.Workload},
		{"strong track record", c.Performance},
		{"good availability", c.Availability},
		{"proven collaboration", c.Collaboration},
	}
	sort.SliceStable(factors, func(i, j int) bool { return factors[i].value > factors[j].value })

	var cited []string
	for _, f := range factors {
		if f.value >= strongCriterion && len(cited) < 2 {
			cited = append(cited, f.label)
		}
	}
	reason := fallbackReason
	if len(cited) > 0 {
		reason = strings.Join(cited, " and ")
	}
	if p.Available && p.Confidence >= confidentEnsemble {
		reason = fmt.Sprintf("%s; model confidence %d%%", reason, int(math.Round(p.Confidence*100)))
	}
	return reason
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
