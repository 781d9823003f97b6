package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/assignml/internal/adapters/mq/queue"
	"github.com/okian/assignml/internal/adapters/mq/worker"
	"github.com/okian/assignml/internal/domain/model"
	logging "github.com/okian/assignml/pkg/logger"
)

// Mock implementations for testing.
type mockQueue struct {
	batches   chan queue.Batch
	closeOnce sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{batches: make(chan queue.Batch, 64)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Batch {
	return mq.batches
}

func (mq *mockQueue) Close() error {
	mq.closeOnce.Do(func() { close(mq.batches) })
	return nil
}

func (mq *mockQueue) add(task string, users ...string) {
	logs := make([]model.PredictionLog, len(users))
	for i, u := range users {
		logs[i] = model.PredictionLog{ID: task + "/" + u, TaskID: task, UserID: u, RecommendationRank: i + 1}
	}
	mq.batches <- queue.Batch{TaskID: task, Logs: logs}
}

type mockWriter struct {
	mu     sync.Mutex
	saved  map[string]model.PredictionLog
	errors map[string]error
	delay  time.Duration
}

func newMockWriter() *mockWriter {
	return &mockWriter{
		saved:  make(map[string]model.PredictionLog),
		errors: make(map[string]error),
	}
}

func (mw *mockWriter) SavePredictions(ctx context.Context, logs ...model.PredictionLog) error {
	if mw.delay > 0 {
		time.Sleep(mw.delay)
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	for _, l := range logs {
		if err, ok := mw.errors[l.TaskID]; ok {
			return err
		}
	}
	for _, l := range logs {
		mw.saved[l.ID] = l
	}
	return nil
}

func (mw *mockWriter) setError(taskID string, err error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.errors[taskID] = err
}

func (mw *mockWriter) count() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return len(mw.saved)
}

func (mw *mockWriter) has(id string) bool {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	_, ok := mw.saved[id]
	return ok
}

type mockNotifier struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

func (mn *mockNotifier) PublishPredictions(ctx context.Context, logs []model.PredictionLog) error {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	if mn.err != nil {
		return mn.err
	}
	mn.tasks = append(mn.tasks, logs[0].TaskID)
	return nil
}

func (mn *mockNotifier) published() []string {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	return append([]string(nil), mn.tasks...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		writer := newMockWriter()
		notifier := &mockNotifier{}
		w := worker.NewInMemoryWorker(q, writer, worker.WithName("test-worker"), worker.WithNotifier(notifier))
		ctx, cancel := context.WithCancel(context.Background())
		convey.Reset(cancel)
		go w.Run(ctx)

		convey.Convey("When a batch arrives", func() {
			q.add("task-1", "u1", "u2")

			convey.Convey("Then every log is stored and announced", func() {
				convey.So(eventually(func() bool { return writer.count() == 2 }), convey.ShouldBeTrue)
				convey.So(writer.has("task-1/u2"), convey.ShouldBeTrue)
				convey.So(eventually(func() bool { return len(notifier.published()) == 1 }), convey.ShouldBeTrue)
				convey.So(notifier.published()[0], convey.ShouldEqual, "task-1")
			})
		})

		convey.Convey("When storing fails", func() {
			writer.setError("task-2", errors.New("disk full"))
			q.add("task-2", "u1")
			q.add("task-3", "u1")

			convey.Convey("Then the batch is not announced and the worker moves on", func() {
				convey.So(eventually(func() bool { return writer.has("task-3/u1") }), convey.ShouldBeTrue)
				convey.So(writer.has("task-2/u1"), convey.ShouldBeFalse)
				convey.So(eventually(func() bool { return len(notifier.published()) == 1 }), convey.ShouldBeTrue)
				convey.So(notifier.published(), convey.ShouldResemble, []string{"task-3"})
			})
		})

		convey.Convey("When publishing fails", func() {
			notifier.err = errors.New("bus down")
			q.add("task-4", "u1")

			convey.Convey("Then the logs are still stored", func() {
				convey.So(eventually(func() bool { return writer.has("task-4/u1") }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			convey.Convey("Then a second shutdown is harmless", func() {
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a worker whose queue closes", t, func() {
		q := newMockQueue()
		w := worker.NewInMemoryWorker(q, newMockWriter())
		done := make(chan struct{})
		go func() {
			w.Run(context.Background())
			close(done)
		}()
		_ = q.Close()

		convey.Convey("Then Run returns", func() {
			select {
			case <-done:
			case <-time.After(time.Second):
				convey.So("worker still running", convey.ShouldBeEmpty)
			}
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a started worker pool", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		writer := newMockWriter()
		writer.delay = time.Millisecond
		pool := worker.NewPool(4, q, writer)
		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)

		convey.Convey("When batches are queued concurrently and the pool is shut down", func() {
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						q.add(fmt.Sprintf("task-%d-%d", p, j), "u1", "u2")
					}
				}(i)
			}
			wg.Wait()

			// Cancelling the start context must not abandon queued batches.
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then every queued batch is drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(writer.count(), convey.ShouldEqual, 80)
			})
		})
	})

	convey.Convey("Given a pool served by a supervisor", t, func() {
		q := newMockQueue()
		writer := newMockWriter()
		pool := worker.NewPool(0, q, writer)
		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() { result <- pool.Serve(ctx) }()

		q.add("task-1", "u1")
		convey.So(eventually(func() bool { return writer.count() == 1 }), convey.ShouldBeTrue)
		cancel()

		convey.Convey("Then Serve returns the context error after draining", func() {
			select {
			case err := <-result:
				convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
			case <-time.After(2 * time.Second):
				convey.So("serve did not return", convey.ShouldBeEmpty)
			}
			convey.So(pool.String(), convey.ShouldEqual, "prediction-log-workers")
		})
	})
}
