package repository_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/assignml/internal/adapters/repository"
	"github.com/okian/assignml/internal/domain/model"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func assignment(id, task, user string, at time.Time) model.MLTrainingEvent {
	return model.MLTrainingEvent{
		EventID:    id,
		EventType:  model.EventTaskAssignment,
		Topic:      "task-assignment",
		TaskID:     task,
		UserID:     user,
		ReceivedAt: at,
		Record: model.EventRecord{
			EventID:          id,
			EventType:        model.EventTaskAssignment,
			TaskID:           task,
			UserID:           user,
			AssignmentMethod: model.AssignmentRecommended,
			OccurredAt:       at,
		},
	}
}

func trainingRow(source, taskType string, completed time.Time) *model.TrainingData {
	return &model.TrainingData{
		SourceEventID:    source,
		TaskID:           "task-" + source,
		UserID:           "user-" + source,
		Task:             model.TaskProfile{ID: "task-" + source, TaskType: taskType, Priority: model.PriorityHigh},
		Candidate:        model.UserProfile{ID: "user-" + source, Skills: model.Skills{"go": model.ProficiencyAdvanced}},
		ActualHours:      model.Float(6),
		TaskStatus:       model.TaskCompleted,
		PerformanceScore: 0.8,
		AssignmentMethod: model.AssignmentManual,
		CompletedAt:      completed,
		DataSource:       model.SourceEvents,
	}
}

func prediction(id, task, user string, at time.Time) model.PredictionLog {
	return model.PredictionLog{
		ID:                 id,
		TaskID:             task,
		UserID:             user,
		ModelVersion:       "v1",
		PredictionType:     model.PredictionTaskAssignment,
		ConfidenceScore:    0.7,
		ContentScore:       0.6,
		CollaborativeScore: 0.5,
		MCDAScore:          0.4,
		RFPredictionScore:  0.8,
		RFConfidence:       0.6,
		PredictedSuccess:   true,
		RecommendationRank: 1,
		PredictionDate:     at,
	}
}

// storeContract runs the same behavioural checks against every Store implementation.
func storeContract(newStore func() repository.Store) {
	ctx := context.Background()

	Convey("Events", func() {
		s := newStore()
		Reset(func() { _ = s.Close() })

		So(s.SaveEvent(ctx, assignment("e1", "t1", "u1", base)), ShouldBeNil)
		So(s.SaveEvent(ctx, assignment("e2", "t1", "u1", base.Add(time.Minute))), ShouldBeNil)

		Convey("A repeated event id is rejected as a duplicate", func() {
			err := s.SaveEvent(ctx, assignment("e1", "t1", "u1", base))
			So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
		})

		Convey("The newest unprocessed assignment is returned", func() {
			ev, err := s.LatestAssignment(ctx, "t1", "u1")
			So(err, ShouldBeNil)
			So(ev.EventID, ShouldEqual, "e2")
			So(ev.Record.AssignmentMethod, ShouldEqual, model.AssignmentRecommended)

			Convey("And processed assignments are skipped", func() {
				So(s.MarkProcessed(ctx, base.Add(time.Hour), "e2"), ShouldBeNil)
				ev, err := s.LatestAssignment(ctx, "t1", "u1")
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldEqual, "e1")

				total, unprocessed, err := s.EventCounts(ctx)
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 2)
				So(unprocessed, ShouldEqual, 1)
			})
		})

		Convey("An unknown pair has no assignment", func() {
			_, err := s.LatestAssignment(ctx, "t1", "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Training data", func() {
		s := newStore()
		Reset(func() { _ = s.Close() })

		a := trainingRow("a", "backend", base)
		b := trainingRow("b", "frontend", base.Add(time.Hour))
		c := trainingRow("c", "", base.Add(2*time.Hour))
		d := trainingRow("d", "Backend", base.Add(3*time.Hour))
		for _, r := range []*model.TrainingData{a, b, c, d} {
			So(s.SaveTrainingData(ctx, r), ShouldBeNil)
			So(r.ID, ShouldBeGreaterThan, 0)
		}

		Convey("A row with the same source event is a duplicate", func() {
			err := s.SaveTrainingData(ctx, trainingRow("a", "backend", base))
			So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
			n, err := s.CountTrainingData(ctx, time.Time{})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 4)
		})

		Convey("Rows without a source event get a generated one", func() {
			r := trainingRow("", "backend", base)
			So(s.SaveTrainingData(ctx, r), ShouldBeNil)
			So(r.SourceEventID, ShouldStartWith, model.SourceEvents+":")
		})

		Convey("Similar history keeps the task type and untyped rows, newest first", func() {
			rows, err := s.SimilarHistory(ctx, "backend", 10)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 3)
			So(rows[0].SourceEventID, ShouldEqual, "d")
			So(rows[1].SourceEventID, ShouldEqual, "c")
			So(rows[2].SourceEventID, ShouldEqual, "a")
			So(*rows[2].ActualHours, ShouldEqual, 6)
			So(rows[2].Candidate.Skills["go"], ShouldEqual, model.ProficiencyAdvanced)

			limited, err := s.SimilarHistory(ctx, "backend", 1)
			So(err, ShouldBeNil)
			So(len(limited), ShouldEqual, 1)

			padded, err := s.SimilarHistory(ctx, "  Backend\t", 10)
			So(err, ShouldBeNil)
			So(len(padded), ShouldEqual, 3)
			So(padded[0].SourceEventID, ShouldEqual, "d")
		})

		Convey("A padded stored task type still matches", func() {
			So(s.SaveTrainingData(ctx, trainingRow("e", " backend ", base.Add(4*time.Hour))), ShouldBeNil)
			rows, err := s.SimilarHistory(ctx, "backend", 10)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 4)
			So(rows[0].SourceEventID, ShouldEqual, "e")
		})

		Convey("Listing returns every row in insertion order", func() {
			rows, err := s.ListTrainingData(ctx, time.Time{})
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 4)
			So(rows[0].SourceEventID, ShouldEqual, "a")
			So(rows[3].SourceEventID, ShouldEqual, "d")
		})
	})

	Convey("Training history", func() {
		s := newStore()
		Reset(func() { _ = s.Close() })

		_, err := s.LatestHistory(ctx)
		So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

		statuses := []model.DeploymentStatus{
			model.DeploymentDeployed, model.DeploymentSkipped, model.DeploymentDeployed, model.DeploymentFailed,
		}
		for i, st := range statuses {
			h := &model.ModelTrainingHistory{
				RunID:             "run-" + string(rune('a'+i)),
				ModelVersion:      "v" + string(rune('1'+i)),
				TrainedAt:         base.Add(time.Duration(i) * time.Hour),
				Accuracy:          0.7 + float64(i)/100,
				DeploymentStatus:  st,
				AdditionalMetrics: map[string]float64{"auc": 0.8},
			}
			So(s.AppendHistory(ctx, h), ShouldBeNil)
			So(h.ID, ShouldBeGreaterThan, 0)
		}

		Convey("Latest and latest deployed differ", func() {
			latest, err := s.LatestHistory(ctx)
			So(err, ShouldBeNil)
			So(latest.RunID, ShouldEqual, "run-d")
			So(latest.DeploymentStatus, ShouldEqual, model.DeploymentFailed)

			deployed, err := s.LatestDeployed(ctx)
			So(err, ShouldBeNil)
			So(deployed.RunID, ShouldEqual, "run-c")
			So(deployed.AdditionalMetrics["auc"], ShouldEqual, 0.8)
		})

		Convey("Paging walks the history newest first", func() {
			page, total, err := s.ListHistory(ctx, time.Time{}, 1, 2)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 4)
			So(len(page), ShouldEqual, 2)
			So(page[0].RunID, ShouldEqual, "run-c")
			So(page[1].RunID, ShouldEqual, "run-b")

			recent, total, err := s.ListHistory(ctx, base.Add(150*time.Minute), 0, 10)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 1)
			So(recent[0].RunID, ShouldEqual, "run-d")

			empty, _, err := s.ListHistory(ctx, time.Time{}, 10, 2)
			So(err, ShouldBeNil)
			So(len(empty), ShouldEqual, 0)
		})
	})

	Convey("Prediction logs", func() {
		s := newStore()
		Reset(func() { _ = s.Close() })

		So(s.SavePredictions(ctx,
			prediction("p1", "t1", "u1", base),
			prediction("p2", "t1", "u1", base.Add(time.Minute)),
			prediction("p3", "t1", "u2", base),
		), ShouldBeNil)

		Convey("The newest prediction for a pair wins", func() {
			p, err := s.LatestPrediction(ctx, "t1", "u1")
			So(err, ShouldBeNil)
			So(p.ID, ShouldEqual, "p2")
			So(p.HasFeedback(), ShouldBeFalse)
		})

		Convey("Feedback is recorded once", func() {
			at := base.Add(time.Hour)
			fb := model.PredictionLog{
				ID:                 "p2",
				ActualSuccess:      model.Bool(true),
				PredictionAccuracy: model.Float(0.8),
				FeedbackDate:       &at,
			}
			So(s.RecordFeedback(ctx, fb), ShouldBeNil)

			p, err := s.LatestPrediction(ctx, "t1", "u1")
			So(err, ShouldBeNil)
			So(*p.ActualSuccess, ShouldBeTrue)
			So(*p.PredictionAccuracy, ShouldEqual, 0.8)

			So(errors.Is(s.RecordFeedback(ctx, fb), repository.ErrConflict), ShouldBeTrue)

			fb.ID = "missing"
			So(errors.Is(s.RecordFeedback(ctx, fb), repository.ErrNotFound), ShouldBeTrue)

			avg, n, err := s.FeedbackAccuracy(ctx, base)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			So(avg, ShouldAlmostEqual, 0.8)
		})

		Convey("Selection marks only the newest prediction", func() {
			So(s.MarkSelected(ctx, "t1", "u1"), ShouldBeNil)
			p, err := s.LatestPrediction(ctx, "t1", "u1")
			So(err, ShouldBeNil)
			So(p.WasSelected, ShouldBeTrue)

			So(errors.Is(s.MarkSelected(ctx, "t9", "u1"), repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Saving an existing prediction id fails", func() {
			err := s.SavePredictions(ctx, prediction("p1", "t1", "u1", base))
			So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		storeContract(func() repository.Store { return repository.NewMemoryStore() })
	})
}

func TestSQLiteStore(t *testing.T) {
	Convey("Given an in-memory SQLite store", t, func() {
		storeContract(func() repository.Store {
			s, err := repository.OpenSQL(context.Background(), "sqlite", "")
			So(err, ShouldBeNil)
			return s
		})
	})
}

func TestMigrate(t *testing.T) {
	Convey("Given a fresh SQLite database", t, func() {
		ctx := context.Background()
		db, err := repository.OpenDB(ctx, "sqlite", filepath.Join(t.TempDir(), "assign.db"))
		So(err, ShouldBeNil)
		Reset(func() { _ = db.Close() })

		Convey("When migrating up, down and up again", func() {
			v, err := repository.Migrate(db, "sqlite", repository.LatestVersion)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 1)

			again, err := repository.Migrate(db, "sqlite", repository.LatestVersion)
			So(err, ShouldBeNil)
			So(again, ShouldEqual, 1)

			down, err := repository.Migrate(db, "sqlite", 0)
			So(err, ShouldBeNil)
			So(down, ShouldEqual, 0)

			up, err := repository.Migrate(db, "sqlite", repository.LatestVersion)
			So(err, ShouldBeNil)

			Convey("Then the schema is usable", func() {
				So(up, ShouldEqual, 1)
				s := repository.NewSQLStore(db, "sqlite")
				So(s.SaveEvent(ctx, assignment("e1", "t1", "u1", base)), ShouldBeNil)
			})
		})

		Convey("When the dialect is unknown", func() {
			_, err := repository.Migrate(db, "oracle", repository.LatestVersion)
			So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
		})
	})

	Convey("Given an unknown driver", t, func() {
		_, err := repository.Open(context.Background(), "oracle", "")
		So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
	})
}

func TestExportTrainingData(t *testing.T) {
	Convey("Given stored training rows", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		So(s.SaveTrainingData(ctx, trainingRow("a", "backend", base)), ShouldBeNil)
		So(s.SaveTrainingData(ctx, trainingRow("b", "frontend", base.Add(time.Hour))), ShouldBeNil)

		Convey("When written as parquet to a buffer", func() {
			rows, err := s.ListTrainingData(ctx, time.Time{})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			n, err := repository.WriteTrainingParquet(&buf, rows)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)

			Convey("Then the file reads back with the flattened columns", func() {
				got, err := parquet.Read[repository.TrainingRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
				So(got[0].SourceEventID, ShouldEqual, "a")
				So(got[0].Priority, ShouldEqual, "HIGH")
				So(got[0].CandidateSkills, ShouldEqual, 1)
				So(*got[0].ActualHours, ShouldEqual, 6)
				So(got[1].TaskType, ShouldEqual, "frontend")
			})
		})

		Convey("When exported to a file", func() {
			path := filepath.Join(t.TempDir(), "training.parquet")
			n, err := repository.ExportTrainingData(ctx, s, time.Time{}, path)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
		})
	})
}
