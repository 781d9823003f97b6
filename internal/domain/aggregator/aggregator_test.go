package aggregator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/assignml/internal/domain/aggregator"
	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/scoring"
	"github.com/okian/assignml/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var equal = map[string]float64{"content": 1, "collaborative": 1, "mcda": 1, "ensemble": 1}

type fakeExternal struct {
	scores []model.ExternalScore
	err    error
	calls  int
}

func (f *fakeExternal) Recommend(context.Context, model.TaskProfile, []model.CandidateFeatures) ([]model.ExternalScore, error) {
	f.calls++
	return f.scores, f.err
}

func input(id string, score, util float64, pred ensemble.Prediction) aggregator.Input {
	return aggregator.Input{
		Features:      model.CandidateFeatures{UserID: id, Utilization: util},
		Content:       score,
		Collaborative: score,
		MCDA:          scoring.MCDAResult{Tops: score, AHP: score},
		Prediction:    pred,
	}
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	task := model.TaskProfile{ID: "t1", Priority: model.PriorityMedium}
	cold := ensemble.Prediction{Score: 0.5}

	Convey("Given an aggregator with equal weights", t, func() {
		agg, err := aggregator.New(equal)
		So(err, ShouldBeNil)

		Convey("An unavailable predictor is excluded from the blend", func() {
			res, err := agg.Aggregate(ctx, task, []aggregator.Input{input("a", 0.9, 0.1, cold)}, nil, 0)
			So(err, ShouldBeNil)
			r := res.Recommendations[0]
			So(r.HybridScore, ShouldAlmostEqual, 0.9, 1e-9)
			So(r.OverallScore, ShouldEqual, r.HybridScore)
			So(r.RFPredictionScore, ShouldEqual, 0.5)
			So(r.RFConfidence, ShouldEqual, 0)
		})

		Convey("Ranks follow overall score then the tie-break chain", func() {
			in := []aggregator.Input{
				input("c", 0, 0.4, cold),
				input("b", 0, 0.2, cold),
				input("a", 0, 0.2, cold),
				input("z", 0.8, 0.9, cold),
				input("y", 0, 0.9, ensemble.Prediction{Confidence: 0.2, Available: true}),
			}
			res, _ := agg.Aggregate(ctx, task, in, nil, 0)
			var order []string
			for i, r := range res.Recommendations {
				order = append(order, r.UserID)
				So(r.Rank, ShouldEqual, i+1)
				So(r.OverallScore, ShouldBeBetweenOrEqual, 0, 1)
			}
			So(order, ShouldResemble, []string{"z", "y", "a", "b", "c"})

			again, _ := agg.Aggregate(ctx, task, in, nil, 0)
			So(again.Recommendations, ShouldResemble, res.Recommendations)
		})

		Convey("The list is truncated to the limit", func() {
			in := []aggregator.Input{input("a", 0.1, 0, cold), input("b", 0.2, 0, cold), input("c", 0.3, 0, cold)}
			res, _ := agg.Aggregate(ctx, task, in, nil, 2)
			So(res.Recommendations, ShouldHaveLength, 2)
			So(res.Recommendations[0].UserID, ShouldEqual, "c")
		})

		Convey("Per-request overrides are validated", func() {
			_, err := agg.Aggregate(ctx, task, nil, map[string]float64{"content": -1}, 0)
			So(errors.Is(err, aggregator.ErrInvalidWeights), ShouldBeTrue)
			_, err = agg.Aggregate(ctx, task, nil, map[string]float64{"popularity": 1}, 0)
			So(errors.Is(err, aggregator.ErrInvalidWeights), ShouldBeTrue)
		})

		Convey("An override favouring content reorders candidates", func() {
			a := input("a", 0.2, 0, cold)
			a.Content = 1
			b := input("b", 0.6, 0, cold)
			b.Content = 0
			res, _ := agg.Aggregate(ctx, task, []aggregator.Input{a, b}, map[string]float64{"content": 1}, 0)
			So(res.Recommendations[0].UserID, ShouldEqual, "a")
			So(res.Recommendations[0].HybridScore, ShouldEqual, 1)
		})
	})

	Convey("Given an urgent task and an external recommender", t, func() {
		ext := &fakeExternal{scores: []model.ExternalScore{{UserID: "b", Score: 1, Reason: "picked by the planner"}}}
		agg, _ := aggregator.New(equal, aggregator.WithExternal(ext), aggregator.WithExternalBlend(0.5))
		urgent := model.TaskProfile{ID: "t2", Priority: model.PriorityCritical}
		in := []aggregator.Input{input("a", 0.6, 0, cold), input("b", 0.5, 0, cold)}

		Convey("External scores are blended into the overall score", func() {
			res, err := agg.Aggregate(ctx, urgent, in, nil, 0)
			So(err, ShouldBeNil)
			So(res.External, ShouldBeTrue)
			top := res.Recommendations[0]
			So(top.UserID, ShouldEqual, "b")
			So(top.OverallScore, ShouldAlmostEqual, 0.75, 1e-9)
			So(top.HybridScore, ShouldAlmostEqual, 0.5, 1e-9)
			So(top.Reason, ShouldEqual, "picked by the planner")
			So(*top.ExternalScore, ShouldEqual, 1)
		})

		Convey("A failed pass falls back to local scores", func() {
			ext.err = errors.New("unavailable")
			res, err := agg.Aggregate(ctx, urgent, in, nil, 0)
			So(err, ShouldBeNil)
			So(res.External, ShouldBeFalse)
			So(res.ExternalErr, ShouldNotBeNil)
			So(res.Recommendations[0].UserID, ShouldEqual, "a")
			So(res.Recommendations[0].ExternalScore, ShouldBeNil)
		})

		Convey("Medium priority tasks never call out", func() {
			_, _ = agg.Aggregate(ctx, task, in, nil, 0)
			So(ext.calls, ShouldEqual, 0)
		})
	})
}

func TestReason(t *testing.T) {
	Convey("Given criteria scores", t, func() {
		c := model.CriteriaScores{SkillMatch: 0.9, Workload: 0.8, Performance: 0.7, Availability: 0.2}

		Convey("The two strongest criteria are cited", func() {
			So(aggregator.Reason(c, ensemble.Prediction{}), ShouldEqual, "strong skill match and low current workload")
		})

		Convey("A confident model is mentioned", func() {
			p := ensemble.Prediction{Available: true, Confidence: 0.84}
			So(aggregator.Reason(c, p), ShouldEqual, "strong skill match and low current workload; model confidence 84%")
		})

		Convey("Weak pools get the fallback reason", func() {
			So(aggregator.Reason(model.CriteriaScores{}, ensemble.Prediction{}), ShouldEqual, "best available match for the current pool")
		})
	})
}
