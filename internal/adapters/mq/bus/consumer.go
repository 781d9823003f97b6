package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/okian/assignml/internal/domain/dedupe"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// Consumption outcomes recorded per topic.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeMalformed = "malformed"
	outcomeFailed    = "failed"
)

// Handler processes one validated, first-seen lifecycle event. Returning an
// error wrapping model.ErrInvalidEvent acknowledges the message; any other
// error has it retried and finally poison-queued.
type Handler interface {
	Handle(ctx context.Context, topic string, rec model.EventRecord) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, topic string, rec model.EventRecord) error

func (f HandlerFunc) Handle(ctx context.Context, topic string, rec model.EventRecord) error {
	return f(ctx, topic, rec)
}

// Consumer routes consumed topics into a Handler with at-least-once delivery
// made idempotent by the deduper.
type Consumer struct {
	bus      *Bus
	handler  Handler
	dedupe   dedupe.Deduper
	validate *validator.Validate

	ready     chan struct{}
	readyOnce sync.Once

	logger logger.Logger
}

// NewConsumer creates a consumer. It does not subscribe until Serve.
func NewConsumer(b *Bus, h Handler, d dedupe.Deduper) *Consumer {
	return &Consumer{
		bus:      b,
		handler:  h,
		dedupe:   d,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		ready:    make(chan struct{}),
		logger:   logger.Get().Named("consumer"),
	}
}

// Ready is closed once the first router is subscribed to every topic.
func (c *Consumer) Ready() <-chan struct{} { return c.ready }

// Serve runs a fresh router until ctx is canceled. A watermill router cannot
// be restarted, so every call builds its own.
func (c *Consumer) Serve(ctx context.Context) error {
	r, err := c.newRouter()
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-r.Running():
			c.readyOnce.Do(func() { close(c.ready) })
		case <-ctx.Done():
		}
	}()
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("run consumer router: %w", err)
	}
	return ctx.Err()
}

func (c *Consumer) String() string { return "event-consumer" }

func (c *Consumer) newRouter() (*message.Router, error) {
	cfg := c.bus.cfg
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, c.bus.wlog)
	if err != nil {
		return nil, fmt.Errorf("create consumer router: %w", err)
	}

	poison, err := middleware.PoisonQueue(poisonPublisher{c.bus.pub}, cfg.Topics.Poison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMax,
		InitialInterval: cfg.RetryInitial,
		MaxInterval:     cfg.RetryInterval,
		Multiplier:      2.0,
		Logger:          c.bus.wlog,
	}
	// First added is outermost: panics become errors, errors are retried,
	// exhausted messages go to the poison topic.
	r.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)

	implied := map[string]model.EventType{
		cfg.Topics.TaskAssignment: model.EventTaskAssignment,
		cfg.Topics.TaskCompletion: model.EventTaskCompletion,
		cfg.Topics.ProfileUpdate:  model.EventUserProfileUpdate,
		cfg.Topics.Events:         model.EventTypeUnknown,
	}
	for _, topic := range cfg.Topics.Consumed() {
		r.AddConsumerHandler("consume-"+topic, topic, c.bus.sub, c.handlerFor(topic, implied[topic]))
	}
	return r, nil
}

func (c *Consumer) handlerFor(topic string, implied model.EventType) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()

		rec, err := decodeRecord(msg, implied)
		if err == nil {
			err = c.check(&rec)
		}
		if err != nil {
			c.malformed(ctx, topic, msg.UUID, err)
			return nil
		}

		if c.dedupe.SeenAndRecord(ctx, rec.EventID) {
			metrics.RecordEventDuplicate()
			metrics.RecordEventConsumed(topic, outcomeDuplicate)
			c.logger.Debug(ctx, "duplicate event ignored", logger.String("eventID", rec.EventID))
			return nil
		}
		// The id stays recorded only once handling succeeds, panics included.
		handled := false
		defer func() {
			if !handled {
				c.dedupe.Unrecord(ctx, rec.EventID)
			}
		}()

		if err := c.handler.Handle(ctx, topic, rec); err != nil {
			if errors.Is(err, model.ErrInvalidEvent) {
				c.malformed(ctx, topic, rec.EventID, err)
				handled = true
				return nil
			}
			metrics.RecordEventConsumed(topic, outcomeFailed)
			metrics.RecordErrorByComponent("consumer", "handle_error")
			return fmt.Errorf("handle event %s: %w", rec.EventID, err)
		}
		handled = true
		metrics.RecordEventConsumed(topic, outcomeProcessed)
		return nil
	}
}

func (c *Consumer) check(rec *model.EventRecord) error {
	if err := c.validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidEvent, err)
	}
	return rec.Check()
}

func (c *Consumer) malformed(ctx context.Context, topic, id string, err error) {
	metrics.RecordEventConsumed(topic, outcomeMalformed)
	c.logger.Warn(ctx, "malformed event acknowledged",
		logger.String("topic", topic),
		logger.String("id", id),
		logger.Error(err),
	)
}

// poisonPublisher counts messages sent to the poison topic.
type poisonPublisher struct {
	message.Publisher
}

func (p poisonPublisher) Publish(topic string, msgs ...*message.Message) error {
	for range msgs {
		metrics.RecordEventPoisoned()
	}
	return p.Publisher.Publish(topic, msgs...)
}
