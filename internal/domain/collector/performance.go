package collector

import "github.com/okian/assignml/internal/domain/model"

// Time component bands, as the ratio of actual to estimated hours.
const (
	onTimeRatio   = 1.1
	slightRatio   = 1.3
	lateRatio     = 1.5
	neutralScore  = 0.5
	qualityScale  = 5.0
	onTimeScore   = 1.0
	slightScore   = 0.8
	lateScore     = 0.6
	overdueScore  = 0.3
	defaultWeight = 0.5
)

// Weights blends the time and quality components of a performance score.
type Weights struct {
	Time    float64
	Quality float64
}

// DefaultWeights weighs time and quality equally.
func DefaultWeights() Weights {
	return Weights{Time: defaultWeight, Quality: defaultWeight}
}

func (w Weights) normalized() Weights {
	if w.Time < 0 || w.Quality < 0 || w.Time+w.Quality <= 0 {
		return DefaultWeights()
	}
	sum := w.Time + w.Quality
	return Weights{Time: w.Time / sum, Quality: w.Quality / sum}
}

// TimeEfficiency is estimated over actual hours, or nil when either is
// missing or not positive.
func TimeEfficiency(estimated, actual *float64) *float64 {
	if estimated == nil || actual == nil || *estimated <= 0 || *actual <= 0 {
		return nil
	}
	return model.Float(*estimated / *actual)
}

// TimeComponent maps an actual/estimated overrun to its band score. Finishing
// early counts as on time.
func TimeComponent(estimated, actual float64) float64 {
	ratio := actual / estimated
	switch {
	case ratio <= onTimeRatio:
		return onTimeScore
	case ratio <= slightRatio:
		return slightScore
	case ratio <= lateRatio:
		return lateScore
	default:
		return overdueScore
	}
}

// NormalizeQuality maps a quality rating into [0,1]. Ratings above 1 are read
// on a 0 to 5 scale.
func NormalizeQuality(q float64) float64 {
	if q > 1 {
		q /= qualityScale
	}
	return clamp01(q)
}

// PerformanceScore derives the training label of a completion. Cancelled
// tasks score 0; with one component missing the other is used alone; with
// both missing the score is neutral.
func PerformanceScore(status model.TaskStatus, estimated, actual, quality *float64, w Weights) float64 {
	if status == model.TaskCancelled {
		return 0
	}
	w = w.normalized()

	eff := TimeEfficiency(estimated, actual)
	switch {
	case eff == nil && quality == nil:
		return neutralScore
	case eff == nil:
		return NormalizeQuality(*quality)
	case quality == nil:
		return TimeComponent(*estimated, *actual)
	default:
		return clamp01(w.Time*TimeComponent(*estimated, *actual) + w.Quality*NormalizeQuality(*quality))
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
