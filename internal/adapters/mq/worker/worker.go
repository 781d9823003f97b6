// Package worker drains prediction log batches off the queue into the store
// and announces them on the event bus.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/assignml/internal/adapters/mq/queue"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	writeTimeout        = 10 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Writer persists prediction logs.
type Writer interface {
	SavePredictions(ctx context.Context, logs ...model.PredictionLog) error
}

// Notifier publishes prediction events after the logs are stored.
type Notifier interface {
	PublishPredictions(ctx context.Context, logs []model.PredictionLog) error
}

// Queue defines how workers receive batches.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Batch
}

// Worker writes batches using the provided interfaces.
type Worker interface {
	// Run processes batches until the queue is drained or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the batch in hand.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	writer   Writer
	notifier Notifier
	name     string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, writer Writer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		writer:   writer,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	batches := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			if err := w.process(ctx, b); err != nil {
				w.logger.Error(ctx, "error processing prediction batch", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker and waits for it to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process stores one batch and then notifies. A failed notification does not
// fail the batch; the logs are already durable.
func (w *InMemoryWorker) process(ctx context.Context, b queue.Batch) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()
	if len(b.Logs) == 0 {
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.writer.SavePredictions(writeCtx, b.Logs...); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "write_error")
		w.logger.Error(ctx, "prediction logs not stored",
			logger.String("taskID", b.TaskID),
			logger.Int("logs", len(b.Logs)),
			logger.Error(err),
		)
		return fmt.Errorf("store predictions for task %s: %w", b.TaskID, err)
	}

	if w.notifier != nil {
		if err := w.notifier.PublishPredictions(ctx, b.Logs); err != nil {
			metrics.RecordErrorByComponent("worker", "publish_error")
			w.logger.Warn(ctx, "prediction events not published",
				logger.String("taskID", b.TaskID),
				logger.Error(err),
			)
		}
	}
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	startOnce sync.Once
	wg        sync.WaitGroup

	logger logger.Logger
}

// NewPool creates a new worker pool. Options apply to every worker.
func NewPool(workerCount int, q Queue, writer Writer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, writer, wopts...)
	}

	metrics.UpdateWorkerActiveCount(0)
	return pool
}

// Start starts all workers in the pool. Workers keep draining after ctx is
// canceled; only Shutdown ends them.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		for _, w := range p.workers {
			p.wg.Add(1)
			go func(w *InMemoryWorker) {
				defer p.wg.Done()
				w.Run(runCtx)
			}(w)
		}
		metrics.UpdateWorkerActiveCount(len(p.workers))
	})
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		metrics.UpdateWorkerActiveCount(0)
		return nil
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out", logger.Int("workers", len(p.workers)))
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
}

// Serve runs the pool as a supervised service.
func (p *Pool) Serve(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	if err := p.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pool) String() string { return "prediction-log-workers" }
