// Package bus connects the engine to the lifecycle event stream. It owns the
// watermill publisher and subscriber for the configured backend, the consumer
// router that feeds the training data collector, and the producer of the
// engine's own events.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/okian/assignml/pkg/logger"
)

// Backends.
const (
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

const (
	defaultCloseTimeout     = 10 * time.Second
	defaultOutputBuffer     = 1024
	defaultRetryMax         = 3
	defaultRetryInitial     = 100 * time.Millisecond
	defaultRetryMaxInterval = 5 * time.Second
	natsReconnectWait       = 2 * time.Second
	natsMaxReconnects       = -1
	natsAckWait             = 30 * time.Second
	natsSubscribersPerSub   = 1
)

// ErrUnknownBackend is returned for a backend other than gochannel or nats.
var ErrUnknownBackend = errors.New("unknown event backend")

// Topics names every topic the engine consumes or produces.
type Topics struct {
	TaskAssignment string
	TaskCompletion string
	ProfileUpdate  string
	Events         string
	ModelUpdated   string
	Prediction     string
	TrainingStatus string
	Poison         string
}

// DefaultTopics returns the standard topic names.
func DefaultTopics() Topics {
	return Topics{
		TaskAssignment: "task-assignment",
		TaskCompletion: "task-completion",
		ProfileUpdate:  "user-profile-update",
		Events:         "ml-events",
		ModelUpdated:   "model-updated",
		Prediction:     "prediction",
		TrainingStatus: "training-status",
		Poison:         "ml-events.poison",
	}
}

// Consumed lists the topics the consumer subscribes to.
func (t Topics) Consumed() []string {
	return []string{t.TaskAssignment, t.TaskCompletion, t.ProfileUpdate, t.Events}
}

// Config configures the bus.
type Config struct {
	Backend       string
	NATSURL       string
	ConsumerGroup string
	Topics        Topics

	// RetryMax bounds handler retries before a message is poison-queued.
	RetryMax      int
	RetryInitial  time.Duration
	RetryInterval time.Duration
	CloseTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.Backend == "" {
		c.Backend = BackendGoChannel
	}
	if c.Topics == (Topics{}) {
		c.Topics = DefaultTopics()
	}
	if c.RetryMax < 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryMaxInterval
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
}

// Bus holds the publisher and subscriber of one backend.
type Bus struct {
	cfg    Config
	pub    message.Publisher
	sub    message.Subscriber
	wlog   watermill.LoggerAdapter
	logger logger.Logger
}

// New connects to the configured backend. The gochannel backend keeps every
// message in process and is what a single instance and the tests use.
func New(cfg Config) (*Bus, error) {
	cfg.defaults()
	log := logger.Get().Named("bus")
	wlog := logger.Watermill(log)

	b := &Bus{cfg: cfg, wlog: wlog, logger: log}
	switch cfg.Backend {
	case BackendGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: defaultOutputBuffer}, wlog)
		b.pub, b.sub = ch, ch
	case BackendNATS:
		natsOpts := []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(natsMaxReconnects),
			natsgo.ReconnectWait(natsReconnectWait),
		}
		pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
			URL:         cfg.NATSURL,
			NatsOptions: natsOpts,
			Marshaler:   &wmnats.NATSMarshaler{},
			JetStream:   wmnats.JetStreamConfig{Disabled: true},
		}, wlog)
		if err != nil {
			return nil, fmt.Errorf("create nats publisher: %w", err)
		}
		sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
			URL:              cfg.NATSURL,
			QueueGroupPrefix: cfg.ConsumerGroup,
			SubscribersCount: natsSubscribersPerSub,
			AckWaitTimeout:   natsAckWait,
			CloseTimeout:     cfg.CloseTimeout,
			NatsOptions:      natsOpts,
			Unmarshaler:      &wmnats.NATSMarshaler{},
			JetStream:        wmnats.JetStreamConfig{Disabled: true},
		}, wlog)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("create nats subscriber: %w", err)
		}
		b.pub, b.sub = pub, sub
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return b, nil
}

// Topics returns the configured topic names.
func (b *Bus) Topics() Topics { return b.cfg.Topics }

// Publisher returns the raw publisher.
func (b *Bus) Publisher() message.Publisher { return b.pub }

// Subscriber returns the raw subscriber.
func (b *Bus) Subscriber() message.Subscriber { return b.sub }

// Close closes the subscriber and then the publisher. For gochannel both are
// the same value and it is closed once.
func (b *Bus) Close() error {
	var errs []error
	if err := b.sub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}
	if b.cfg.Backend != BackendGoChannel {
		if err := b.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
