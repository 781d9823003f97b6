package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/assignml/internal/adapters/mq/bus"
	"github.com/okian/assignml/internal/domain/dedupe"
	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type recorder struct {
	mu     sync.Mutex
	calls  map[string]int
	topics map[string]string
	fail   map[string]error
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}, topics: map[string]string{}, fail: map[string]error{}}
}

func (r *recorder) Handle(_ context.Context, topic string, rec model.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[rec.EventID]++
	r.topics[rec.EventID] = topic + "/" + rec.EventType.String()
	return r.fail[rec.EventID]
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *recorder) setFail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[id] = err
}

func (r *recorder) topic(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[id]
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func assignment(id string) model.EventRecord {
	return model.EventRecord{
		EventID:          id,
		EventType:        model.EventTaskAssignment,
		TaskID:           "t1",
		UserID:           "u1",
		AssignmentMethod: model.AssignmentRecommended,
		OccurredAt:       time.Now(),
	}
}

func publishRaw(b *bus.Bus, topic string, payload []byte) {
	So(b.Publisher().Publish(topic, message.NewMessage(watermill.NewUUID(), payload)), ShouldBeNil)
}

func TestConsumer(t *testing.T) {
	Convey("Given a running consumer on the in-process backend", t, func() {
		b, err := bus.New(bus.Config{RetryMax: 2, RetryInitial: time.Millisecond, RetryInterval: 5 * time.Millisecond})
		So(err, ShouldBeNil)
		Reset(func() { _ = b.Close() })

		rec := newRecorder()
		consumer := bus.NewConsumer(b, rec, dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(100)))
		ctx, cancel := context.WithCancel(context.Background())
		Reset(cancel)

		poison, err := b.Subscriber().Subscribe(ctx, b.Topics().Poison)
		So(err, ShouldBeNil)

		go func() { _ = consumer.Serve(ctx) }()
		select {
		case <-consumer.Ready():
		case <-time.After(3 * time.Second):
			So("consumer not ready", ShouldBeEmpty)
		}
		producer := bus.NewProducer(b)

		Convey("A redelivered event is handled once", func() {
			So(producer.PublishEvent(ctx, assignment("e1")), ShouldBeNil)
			So(producer.PublishEvent(ctx, assignment("e1")), ShouldBeNil)
			So(producer.PublishEvent(ctx, assignment("e2")), ShouldBeNil)

			So(eventually(func() bool { return rec.count("e2") == 1 }), ShouldBeTrue)
			time.Sleep(20 * time.Millisecond)
			So(rec.count("e1"), ShouldEqual, 1)
			So(rec.topic("e1"), ShouldEqual, "task-assignment/TASK_ASSIGNMENT")
		})

		Convey("The catch-all topic routes by event type", func() {
			payload, _ := json.Marshal(model.EventRecord{
				EventID:   "e3",
				EventType: model.EventUserProfileUpdate,
				UserID:    "u7",
			})
			publishRaw(b, b.Topics().Events, payload)
			So(eventually(func() bool { return rec.count("e3") == 1 }), ShouldBeTrue)
			So(rec.topic("e3"), ShouldEqual, "ml-events/USER_PROFILE_UPDATE")
		})

		Convey("A dedicated topic implies the event type", func() {
			publishRaw(b, b.Topics().TaskCompletion, []byte(`{"eventId":"e4","taskId":"t1","userId":"u1"}`))
			So(eventually(func() bool { return rec.count("e4") == 1 }), ShouldBeTrue)
			So(rec.topic("e4"), ShouldEqual, "task-completion/TASK_COMPLETION")
		})

		Convey("Malformed events are acknowledged without handling", func() {
			publishRaw(b, b.Topics().TaskAssignment, []byte(`not json`))
			publishRaw(b, b.Topics().TaskAssignment, []byte(`{"eventId":"e5","userId":"u1"}`))
			publishRaw(b, b.Topics().Events, []byte(`{"eventId":"e6","userId":"u1"}`))
			So(producer.PublishEvent(ctx, assignment("e7")), ShouldBeNil)

			So(eventually(func() bool { return rec.count("e7") == 1 }), ShouldBeTrue)
			So(rec.count("e5"), ShouldEqual, 0)
			So(rec.count("e6"), ShouldEqual, 0)
		})

		Convey("A failing event is retried and then poison-queued", func() {
			rec.setFail("e8", errors.New("store down"))
			So(producer.PublishEvent(ctx, assignment("e8")), ShouldBeNil)

			select {
			case msg := <-poison:
				msg.Ack()
				var got model.EventRecord
				So(json.Unmarshal(msg.Payload, &got), ShouldBeNil)
				So(got.EventID, ShouldEqual, "e8")
			case <-time.After(3 * time.Second):
				So("nothing poison-queued", ShouldBeEmpty)
			}
			So(rec.count("e8"), ShouldEqual, 3)

			Convey("And its id is not remembered as seen", func() {
				rec.setFail("e8", nil)
				So(producer.PublishEvent(ctx, assignment("e8")), ShouldBeNil)
				So(eventually(func() bool { return rec.count("e8") == 4 }), ShouldBeTrue)
			})
		})

		Convey("A handler rejecting the event as invalid is not retried", func() {
			rec.setFail("e9", model.ErrInvalidEvent)
			So(producer.PublishEvent(ctx, assignment("e9")), ShouldBeNil)
			So(eventually(func() bool { return rec.count("e9") == 1 }), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)
			So(rec.count("e9"), ShouldEqual, 1)
		})
	})
}

func TestProducer(t *testing.T) {
	Convey("Given a producer on the in-process backend", t, func() {
		b, err := bus.New(bus.Config{})
		So(err, ShouldBeNil)
		Reset(func() { _ = b.Close() })
		ctx, cancel := context.WithCancel(context.Background())
		Reset(cancel)
		producer := bus.NewProducer(b)

		Convey("Predictions are published one message per log", func() {
			ch, err := b.Subscriber().Subscribe(ctx, b.Topics().Prediction)
			So(err, ShouldBeNil)
			So(producer.PublishPredictions(ctx, []model.PredictionLog{
				{TaskID: "t1", UserID: "u1", RecommendationRank: 1, ConfidenceScore: 0.8, ModelVersion: "v1"},
				{TaskID: "t1", UserID: "u2", RecommendationRank: 2, ConfidenceScore: 0.6, ModelVersion: "v1"},
			}), ShouldBeNil)

			var got []bus.PredictionEvent
			for len(got) < 2 {
				select {
				case msg := <-ch:
					msg.Ack()
					var ev bus.PredictionEvent
					So(json.Unmarshal(msg.Payload, &ev), ShouldBeNil)
					got = append(got, ev)
				case <-time.After(time.Second):
					So("missing prediction events", ShouldBeEmpty)
				}
			}
			So(got[0].UserID, ShouldEqual, "u1")
			So(got[1].Rank, ShouldEqual, 2)
		})

		Convey("Model updates and training status reach their topics", func() {
			updates, err := b.Subscriber().Subscribe(ctx, b.Topics().ModelUpdated)
			So(err, ShouldBeNil)
			status, err := b.Subscriber().Subscribe(ctx, b.Topics().TrainingStatus)
			So(err, ShouldBeNil)

			So(producer.PublishModelUpdated(ctx, "v2", ensemble.Metrics{Accuracy: 0.9}, time.Now()), ShouldBeNil)
			So(producer.PublishTrainingStatus(ctx, "run-1", "RUNNING", ""), ShouldBeNil)

			msg := <-updates
			msg.Ack()
			var mu bus.ModelUpdated
			So(json.Unmarshal(msg.Payload, &mu), ShouldBeNil)
			So(mu.Version, ShouldEqual, "v2")
			So(mu.Metrics.Accuracy, ShouldEqual, 0.9)

			msg = <-status
			msg.Ack()
			var ts bus.TrainingStatus
			So(json.Unmarshal(msg.Payload, &ts), ShouldBeNil)
			So(ts.RunID, ShouldEqual, "run-1")
			So(ts.Status, ShouldEqual, "RUNNING")
		})

		Convey("An event without a known type cannot be forwarded", func() {
			err := producer.PublishEvent(ctx, model.EventRecord{EventID: "e1", UserID: "u1"})
			So(errors.Is(err, bus.ErrUnroutable), ShouldBeTrue)
		})
	})

	Convey("An unknown backend is rejected", t, func() {
		_, err := bus.New(bus.Config{Backend: "kafka"})
		So(errors.Is(err, bus.ErrUnknownBackend), ShouldBeTrue)
	})
}
