package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

func batch(task string, users ...string) Batch {
	logs := make([]model.PredictionLog, len(users))
	for i, u := range users {
		logs[i] = model.PredictionLog{ID: task + "/" + u, TaskID: task, UserID: u, RecommendationRank: i + 1}
	}
	return Batch{TaskID: task, Logs: logs}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, batch("task1", "u1", "u2")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	b := <-q.Dequeue(ctx)
	if b.TaskID != "task1" || len(b.Logs) != 2 {
		t.Errorf("unexpected batch %+v", b)
	}
	if b.EnqueuedAt.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, batch("task1", "u1")) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, batch("task2", "u1")) {
		t.Error("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, batch("task3", "u1")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const producers = 10
	const perProducer = 100

	var consumed atomic.Int64
	for i := 0; i < producers; i++ {
		go func() {
			for range q.Dequeue(ctx) {
				consumed.Add(1)
			}
		}()
	}

	done := make(chan struct{}, producers)
	for i := 0; i < producers; i++ {
		go func(id int) {
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(ctx, batch(fmt.Sprintf("task%d_%d", id, j), "u1")) {
					time.Sleep(time.Millisecond)
				}
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < producers; i++ {
		<-done
	}

	deadline := time.Now().Add(2 * time.Second)
	for consumed.Load() < producers*perProducer && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := consumed.Load(); got != producers*perProducer {
		t.Errorf("expected %d batches consumed, got %d", producers*perProducer, got)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, batch("task1", "u1")) || !q.Enqueue(ctx, batch("task2", "u1")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, batch("task3", "u1")) {
		t.Error("expected enqueue to fail after closing")
	}

	var drained []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				if len(drained) != 2 || drained[0] != "task1" || drained[1] != "task2" {
					t.Errorf("expected queued batches to drain in order, got %v", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained = append(drained, b.TaskID)
		case <-timeout:
			t.Fatal("expected dequeue channel to close after draining")
		}
	}
}
