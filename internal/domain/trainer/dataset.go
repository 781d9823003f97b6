package trainer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/scoring"
)

// defaultHistoryWindow caps the earlier rows a row's collaborative score is computed from.
const defaultHistoryWindow = 500

// QualityConfig holds the data quality gates.
type QualityConfig struct {
	MinRows        int
	MaxNullRatio   float64
	MinClassRatio  float64
	LabelThreshold float64
}

// Report is the outcome of a data quality check.
type Report struct {
	Rows          int            `json:"rows"`
	Positive      int            `json:"positive"`
	NullRatio     float64        `json:"nullRatio"`
	PositiveRatio float64        `json:"positiveRatio"`
	MinorityRatio float64        `json:"minorityRatio"`
	BySource      map[string]int `json:"bySource"`
	Valid         bool           `json:"valid"`
	Issues        []string       `json:"issues,omitempty"`
}

// Label reports whether a row counts as a successful assignment.
func Label(row *model.TrainingData, threshold float64) bool {
	return row.PerformanceScore >= threshold
}

// Validate checks rows against the quality gates.
func Validate(rows []model.TrainingData, cfg QualityConfig) Report {
	r := Report{Rows: len(rows), BySource: map[string]int{}}
	missing := 0
	for i := range rows {
		missing += rows[i].Incomplete()
		r.BySource[rows[i].DataSource]++
		if Label(&rows[i], cfg.LabelThreshold) {
			r.Positive++
		}
	}
	if r.Rows > 0 {
		r.NullRatio = float64(missing) / float64(r.Rows*model.IncompleteFields)
		r.PositiveRatio = float64(r.Positive) / float64(r.Rows)
		r.MinorityRatio = math.Min(r.PositiveRatio, 1-r.PositiveRatio)
	}

	if r.Rows < cfg.MinRows {
		r.Issues = append(r.Issues, fmt.Sprintf("only %d rows, need %d", r.Rows, cfg.MinRows))
	}
	if r.Rows > 0 && r.NullRatio > cfg.MaxNullRatio {
		r.Issues = append(r.Issues, fmt.Sprintf("null ratio %.2f exceeds %.2f", r.NullRatio, cfg.MaxNullRatio))
	}
	if r.Rows > 0 && r.MinorityRatio < cfg.MinClassRatio {
		r.Issues = append(r.Issues, fmt.Sprintf("minority class share %.2f below %.2f", r.MinorityRatio, cfg.MinClassRatio))
	}
	r.Valid = r.Rows > 0 && len(r.Issues) == 0
	return r
}

// Featurizer projects training rows onto the predictor input exactly as the
// recommendation path projects live candidates.
type Featurizer struct {
	builder       *features.Builder
	content       *scoring.Content
	mcda          *scoring.MCDA
	collaborative *scoring.Collaborative
	window        int
}

// NewFeaturizer uses the AHP weights w for the ahp meta-feature and cf for the
// collaborative one. A nil cf uses the default neighbour settings; window
// bounds the earlier rows cf looks at and defaults to 500.
func NewFeaturizer(w scoring.Weights, cf *scoring.Collaborative, window int) *Featurizer {
	if cf == nil {
		cf, _ = scoring.NewCollaborative(scoring.DefaultCollaborativeConfig())
	}
	if window <= 0 {
		window = defaultHistoryWindow
	}
	return &Featurizer{
		builder:       features.NewBuilder(),
		content:       scoring.NewContent(),
		mcda:          scoring.NewMCDA(w),
		collaborative: cf,
		window:        window,
	}
}

// Row returns the vector of one row. Scores recorded when the pair was served
// are preferred; otherwise they are recomputed, the collaborative one over
// history, which must only hold rows completed before row.
func (f *Featurizer) Row(row *model.TrainingData, history []model.TrainingData) ([]float64, error) {
	cf, err := f.builder.BuildOne(row.Task, row.Candidate)
	if err != nil {
		return nil, err
	}
	meta := features.Meta{
		Content: f.content.Score(cf),
		AHP:     f.mcda.AHP(cf),
	}
	if row.ContentScore != nil {
		meta.Content = *row.ContentScore
	}
	if row.CollaborativeScore != nil {
		meta.Collaborative = *row.CollaborativeScore
	} else {
		meta.Collaborative, _ = f.collaborative.Score(cf, history)
	}
	return features.Vector(cf, meta), nil
}

// Dataset vectorises rows, dropping the ones that cannot be featurised. Each
// row's collaborative score only sees rows completed before it, as a live
// request only sees rows completed before it was served.
func (f *Featurizer) Dataset(rows []model.TrainingData, threshold float64) (X [][]float64, y []bool, dropped int) {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rows[order[a]].CompletedAt.Before(rows[order[b]].CompletedAt)
	})
	chrono := make([]model.TrainingData, len(rows))
	pos := make([]int, len(rows))
	for p, i := range order {
		chrono[p] = rows[i]
		pos[i] = p
	}

	X = make([][]float64, 0, len(rows))
	y = make([]bool, 0, len(rows))
	for i := range rows {
		p := pos[i]
		v, err := f.Row(&rows[i], chrono[max(0, p-f.window):p])
		if err != nil {
			dropped++
			continue
		}
		X = append(X, v)
		y = append(y, Label(&rows[i], threshold))
	}
	return X, y, dropped
}

// Split is a seeded stratified shuffle split returning train and validation
// indices. Each class keeps at least one training sample.
func Split(y []bool, share float64, seed int64) (train, val []int) {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	var byClass [2][]int
	for i, v := range y {
		if v {
			byClass[1] = append(byClass[1], i)
		} else {
			byClass[0] = append(byClass[0], i)
		}
	}
	for _, idx := range byClass {
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(math.Round(float64(len(idx)) * share))
		if n == 0 && share > 0 && len(idx) >= 2 {
			n = 1
		}
		if n >= len(idx) {
			n = len(idx) - 1
		}
		if n < 0 {
			n = 0
		}
		val = append(val, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	return train, val
}

func pick(X [][]float64, y []bool, idx []int) ([][]float64, []bool) {
	px := make([][]float64, len(idx))
	py := make([]bool, len(idx))
	for i, j := range idx {
		px[i], py[i] = X[j], y[j]
	}
	return px, py
}
