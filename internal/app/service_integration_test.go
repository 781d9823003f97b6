package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/assignml/internal/app"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/trainer"
)

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a running engine", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		svc, err := service.New(ctx, testConfig())
		So(err, ShouldBeNil)

		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()
		Reset(func() {
			cancel()
			<-done
			_ = svc.Close()
		})

		select {
		case <-svc.ConsumerReady():
		case <-time.After(10 * time.Second):
			So("consumer not ready", ShouldBeEmpty)
		}

		Convey("Served recommendations are logged and accept feedback once", func() {
			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityMedium), Candidates: candidates()})
			So(err, ShouldBeNil)
			So(resp.Recommendations, ShouldNotBeEmpty)

			fb := model.Feedback{TaskID: "t1", UserID: "alice", ActualSuccess: true}
			var log model.PredictionLog
			So(eventually(func() bool {
				log, err = svc.SubmitFeedback(ctx, fb)
				return err == nil
			}), ShouldBeTrue)
			So(*log.ActualSuccess, ShouldBeTrue)
			So(*log.PredictionAccuracy, ShouldAlmostEqual, resp.Recommendations[0].OverallScore)
			So(log.RecommendationRank, ShouldEqual, 1)

			_, err = svc.SubmitFeedback(ctx, fb)
			So(err, ShouldEqual, service.ErrFeedbackRecorded)
		})

		Convey("Published assignment and completion become one training row", func() {
			base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
			_, err := svc.PublishEvent(ctx, model.EventRecord{
				EventID: "a-1", EventType: model.EventTaskAssignment, OccurredAt: base,
				TaskID: "t1", UserID: "alice", AssignmentMethod: model.AssignmentManual,
				Task: task(model.PriorityMedium), Candidate: &candidates()[0],
			})
			So(err, ShouldBeNil)
			So(eventually(func() bool { return svc.GetStats(ctx)["eventsTotal"] == 1 }), ShouldBeTrue)

			_, err = svc.PublishEvent(ctx, model.EventRecord{
				EventID: "c-1", EventType: model.EventTaskCompletion, OccurredAt: base.Add(48 * time.Hour),
				TaskID: "t1", UserID: "alice", TaskStatus: model.TaskCompleted,
				EstimatedHours: model.Float(8), ActualHours: model.Float(8), QualityScore: model.Float(5),
			})
			So(err, ShouldBeNil)

			So(eventually(func() bool { return svc.GetStats(ctx)["trainingRows"] == 1 }), ShouldBeTrue)
			So(eventually(func() bool { return svc.GetStats(ctx)["eventsUnprocessed"] == 0 }), ShouldBeTrue)

			_, err = svc.PublishEvent(ctx, model.EventRecord{EventID: "x", EventType: model.EventTaskCompletion, UserID: "alice"})
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
		})

		Convey("A synthetic training run deploys a model the next request uses", func() {
			runID, err := svc.StartTraining(ctx, trainer.Request{ForceRetrain: true, UseSynthetic: true})
			So(err, ShouldBeNil)
			So(eventually(func() bool { return svc.TrainingStatus().State != trainer.StateRunning }), ShouldBeTrue)

			st := svc.TrainingStatus()
			So(st.RunID, ShouldEqual, runID)
			So(st.State, ShouldEqual, trainer.StateCompleted)
			So(st.LastOutcome, ShouldEqual, "DEPLOYED")

			page, err := svc.TrainingHistory(ctx, 1, 10, 0)
			So(err, ShouldBeNil)
			So(page.Total, ShouldEqual, 1)
			So(page.Items[0].ModelVersion, ShouldEqual, st.LastVersion)

			fi := svc.FeatureImportance()
			So(fi.ModelVersion, ShouldEqual, st.LastVersion)
			So(fi.Importance, ShouldNotBeEmpty)

			resp, err := svc.Recommend(ctx, service.RecommendRequest{Task: task(model.PriorityMedium), Candidates: candidates()})
			So(err, ShouldBeNil)
			So(resp.ModelVersion, ShouldEqual, st.LastVersion)
			So(resp.Degraded, ShouldNotContain, "model")

			So(svc.CancelTraining(), ShouldEqual, trainer.ErrNoActiveTraining)
		})
	})
}
