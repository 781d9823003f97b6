package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/assignml/internal/adapters/registry"
	"github.com/okian/assignml/internal/adapters/repository"
	service "github.com/okian/assignml/internal/app"
	"github.com/okian/assignml/internal/config"
	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.SchedulerEnabled = false
	cfg.PredictionWorkerCount = 2
	cfg.PredictionQueueSize = 100
	cfg.EventRetryInitialMS = 1
	cfg.LabelThreshold = 0.6
	cfg.ForestTrees = 10
	return cfg
}

func task(priority model.Priority) *model.TaskProfile {
	return &model.TaskProfile{
		ID:             "t1",
		TaskType:       "backend",
		Department:     "engineering",
		RequiredSkills: model.Skills{"go": model.ProficiencyAdvanced, "sql": model.ProficiencyIntermediate},
		Priority:       priority,
		Difficulty:     model.DifficultyMedium,
		EstimatedHours: 8,
	}
}

func candidates() []model.UserProfile {
	return []model.UserProfile{
		{
			ID: "alice", Department: "engineering", Seniority: model.SeniorityDirector, YearsExperience: 9,
			Skills:      model.Skills{"go": model.ProficiencyExpert, "sql": model.ProficiencyAdvanced},
			Utilization: model.Float(0.2), PerformanceRating: model.Float(4.5), TaskSuccessRate: model.Float(0.9),
			AvailabilityStatus: model.AvailabilityAvailable,
		},
		{
			ID: "bob", Department: "design", Seniority: model.Seniority(2), YearsExperience: 1,
			Skills:      model.Skills{"figma": model.ProficiencyAdvanced},
			Utilization: model.Float(0.9), PerformanceRating: model.Float(3),
			AvailabilityStatus: model.AvailabilityBusy,
		},
		{
			ID: "carol", Department: "engineering", Seniority: model.Seniority(4), YearsExperience: 4,
			Skills:      model.Skills{"go": model.ProficiencyIntermediate},
			Utilization: model.Float(0.5), AvailabilityStatus: model.AvailabilityAvailable,
		},
	}
}

func TestServiceRecommend(t *testing.T) {
	Convey("Given a service with no upstream collaborators and no model", t, func() {
		ctx := context.Background()
		svc, err := service.New(ctx, testConfig())
		So(err, ShouldBeNil)
		Reset(func() { _ = svc.Close() })
		So(svc.Start(ctx), ShouldBeNil)

		Convey("A request is still answered with a ranked list", func() {
			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityMedium), Candidates: candidates()})
			So(err, ShouldBeNil)
			So(resp.TaskID, ShouldEqual, "t1")
			So(resp.ModelVersion, ShouldBeEmpty)
			So(resp.Degraded, ShouldContain, "model")
			So(resp.Degraded, ShouldContain, "workloads")
			So(len(resp.Recommendations), ShouldEqual, 3)
			So(resp.Recommendations[0].UserID, ShouldEqual, "alice")
			for i, r := range resp.Recommendations {
				So(r.Rank, ShouldEqual, i+1)
				So(r.RFConfidence, ShouldEqual, 0)
				So(r.Reason, ShouldNotBeEmpty)
			}
		})

		Convey("Malformed candidates are skipped and the rest ranked", func() {
			pool := append(candidates(), model.UserProfile{ID: "broken", Utilization: model.Float(-1)})
			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityLow), Candidates: pool, Limit: 2})
			So(err, ShouldBeNil)
			So(len(resp.Recommendations), ShouldEqual, 2)
			So(len(resp.Skipped), ShouldEqual, 1)
			So(resp.Skipped[0].UserID, ShouldEqual, "broken")
		})

		Convey("An urgent task without an external recommender keeps its local ranking", func() {
			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityCritical), Candidates: candidates()})
			So(err, ShouldBeNil)
			So(resp.External, ShouldBeFalse)
			So(resp.Degraded, ShouldNotContain, "external")
			So(resp.Recommendations[0].ExternalScore, ShouldBeNil)
		})

		Convey("Candidate ids resolve to bare profiles while profiles are degraded", func() {
			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityLow), CandidateIDs: []string{"u1", "u2"}})
			So(err, ShouldBeNil)
			So(len(resp.Recommendations), ShouldEqual, 2)
			So(resp.Degraded, ShouldContain, "profiles")
		})

		Convey("Caller errors are reported as bad requests", func() {
			_, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityLow)})
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)

			_, err = svc.Recommend(ctx, service.RecommendRequest{Candidates: candidates()})
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)

			_, err = svc.Recommend(ctx, service.RecommendRequest{
				Task: task(model.PriorityLow), Candidates: candidates(),
				Weights: map[string]float64{"content": -1},
			})
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
		})

		Convey("Feedback for a pair never recommended is rejected", func() {
			_, err := svc.SubmitFeedback(ctx, model.Feedback{TaskID: "t9", UserID: "nobody", ActualSuccess: true})
			So(err, ShouldEqual, service.ErrPredictionNotFound)

			_, err = svc.SubmitFeedback(ctx, model.Feedback{TaskID: "t9"})
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
		})

		Convey("Stats describe the running engine", func() {
			stats := svc.GetStats(ctx)
			So(stats["modelVersion"], ShouldEqual, "")
			So(stats["trainingState"], ShouldEqual, "IDLE")
			So(stats["trainingRows"], ShouldEqual, 0)
			So(stats["breakers"], ShouldNotBeEmpty)
		})
	})
}

func TestServiceStart(t *testing.T) {
	Convey("Given a store with a deployed run", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		reg, err := registry.Open("")
		So(err, ShouldBeNil)

		X := make([][]float64, 20)
		y := make([]bool, 20)
		for i := range X {
			X[i] = make([]float64, features.Dim())
			X[i][0] = float64(i) / 20
			y[i] = i >= 10
		}
		m, err := ensemble.Fit(ctx, "v-loaded", features.FeatureNames(), X, y, ensemble.Params{Trees: 3, Seed: 1})
		So(err, ShouldBeNil)

		Convey("Start loads its artifact into the predictor", func() {
			So(reg.Save(ctx, m), ShouldBeNil)
			So(store.AppendHistory(ctx, &model.ModelTrainingHistory{
				RunID: "r1", ModelVersion: "v-loaded", TrainedAt: time.Now(), DeploymentStatus: model.DeploymentDeployed,
			}), ShouldBeNil)

			svc, err := service.New(ctx, testConfig(), service.WithStore(store), service.WithRegistry(reg))
			So(err, ShouldBeNil)
			Reset(func() { _ = svc.Close() })
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.FeatureImportance().ModelVersion, ShouldEqual, "v-loaded")

			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityLow), Candidates: candidates()})
			So(err, ShouldBeNil)
			So(resp.ModelVersion, ShouldEqual, "v-loaded")
			So(resp.Degraded, ShouldNotContain, "model")
		})

		Convey("A missing artifact leaves the predictor cold", func() {
			So(store.AppendHistory(ctx, &model.ModelTrainingHistory{
				RunID: "r1", ModelVersion: "v-gone", TrainedAt: time.Now(), DeploymentStatus: model.DeploymentDeployed,
			}), ShouldBeNil)

			svc, err := service.New(ctx, testConfig(), service.WithStore(store), service.WithRegistry(reg))
			So(err, ShouldBeNil)
			Reset(func() { _ = svc.Close() })
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.FeatureImportance().ModelVersion, ShouldBeEmpty)
			So(svc.FeatureImportance().Importance, ShouldBeEmpty)
		})
	})

	Convey("Given an unknown store driver", t, func() {
		cfg := testConfig()
		cfg.StoreDriver = "mysql"
		_, err := service.New(context.Background(), cfg)
		So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
	})
}
