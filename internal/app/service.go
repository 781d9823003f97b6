// Package service wires the recommendation engine, the event pipeline and the
// trainer into one process and implements the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/assignml/internal/adapters/mq/bus"
	eventqueue "github.com/okian/assignml/internal/adapters/mq/queue"
	workerpool "github.com/okian/assignml/internal/adapters/mq/worker"
	"github.com/okian/assignml/internal/adapters/registry"
	"github.com/okian/assignml/internal/adapters/repository"
	"github.com/okian/assignml/internal/adapters/upstream"
	"github.com/okian/assignml/internal/config"
	"github.com/okian/assignml/internal/domain/aggregator"
	"github.com/okian/assignml/internal/domain/collector"
	"github.com/okian/assignml/internal/domain/dedupe"
	"github.com/okian/assignml/internal/domain/ensemble"
	"github.com/okian/assignml/internal/domain/features"
	"github.com/okian/assignml/internal/domain/scoring"
	"github.com/okian/assignml/internal/domain/trainer"
	"github.com/okian/assignml/pkg/logger"
)

// Service owns every component of the engine.
type Service struct {
	cfg *config.Config

	// Persistence and transport
	store    repository.Store
	registry *registry.Registry
	bus      *bus.Bus
	producer *bus.Producer
	deduper  dedupe.Deduper
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool
	upstream *upstream.Set

	// Recommendation path
	handle        *ensemble.Handle
	builder       *features.Builder
	content       *scoring.Content
	collaborative *scoring.Collaborative
	mcda          *scoring.MCDA
	aggregator    *aggregator.Aggregator

	// Learning path
	collector *collector.Collector
	trainer   *trainer.Trainer
	consumer  *bus.Consumer
	scheduler *trainer.Scheduler

	startedAt time.Time
	now       func() time.Time
	logger    logger.Logger
}

// New builds the service from cfg. Nothing runs until Run or Start is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (s *Service, err error) {
	s = &Service{
		cfg:    cfg,
		handle: ensemble.NewHandle(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.store == nil {
		if s.store, err = repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	if s.registry == nil {
		if s.registry, err = registry.Open(cfg.RegistryPath); err != nil {
			return nil, err
		}
	}
	if s.upstream == nil {
		s.upstream, err = upstream.NewSet(upstream.Options{
			ProfileURL:  cfg.ProfileServiceURL,
			TaskURL:     cfg.TaskServiceURL,
			WorkloadURL: cfg.WorkloadServiceURL,
			ExternalURL: cfg.ExternalRecommenderURL,
			Timeout:     cfg.UpstreamTimeout(),
			Breaker: upstream.BreakerSettings{
				FailureThreshold: uint32(cfg.BreakerFailureThreshold),
				OpenTimeout:      time.Duration(cfg.BreakerOpenSeconds) * time.Second,
			},
			ProfileTTL:     cfg.ProfileFreshness(),
			ProfileEntries: int64(cfg.ProfileCacheEntries),
		})
		if err != nil {
			return nil, fmt.Errorf("upstream: %w", err)
		}
	}

	s.bus, err = bus.New(bus.Config{
		Backend:       cfg.EventBackend,
		NATSURL:       cfg.NATSURL,
		ConsumerGroup: cfg.ConsumerGroup,
		RetryMax:      cfg.EventRetryMax,
		RetryInitial:  time.Duration(cfg.EventRetryInitialMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	s.producer = bus.NewProducer(s.bus)

	if err := s.buildScorers(cfg); err != nil {
		return nil, err
	}
	s.buildPipeline(cfg)
	return s, nil
}

func (s *Service) buildScorers(cfg *config.Config) error {
	criteria, err := scoring.NewWeights(cfg.CriteriaWeights)
	if err != nil {
		return fmt.Errorf("criteria weights: %w", err)
	}
	s.collaborative, err = scoring.NewCollaborative(scoring.CollaborativeConfig{
		Weights:       cfg.CFSimilarityWeights,
		MinSimilarity: cfg.CFMinSimilarity,
		Neighbors:     cfg.CFNeighbors,
	})
	if err != nil {
		return fmt.Errorf("collaborative weights: %w", err)
	}
	s.aggregator, err = aggregator.New(cfg.SignalWeights,
		aggregator.WithLimit(cfg.MaxRecommendations),
		aggregator.WithExternalBlend(cfg.ExternalBlendWeight),
		aggregator.WithExternal(s.upstream.External),
	)
	if err != nil {
		return fmt.Errorf("signal weights: %w", err)
	}
	s.builder = features.NewBuilder()
	s.content = scoring.NewContent()
	s.mcda = scoring.NewMCDA(criteria)

	s.trainer = trainer.New(s.store, s.registry, s.handle, trainer.Config{
		Quality: trainer.QualityConfig{
			MinRows:        cfg.MinRows,
			MaxNullRatio:   cfg.MaxNullRatio,
			MinClassRatio:  cfg.MinClassRatio,
			LabelThreshold: cfg.LabelThreshold,
		},
		ValidationSplit:     cfg.ValidationSplit,
		RegressionTolerance: cfg.RegressionTolerance,
		Forest: ensemble.Params{
			Trees:           cfg.ForestTrees,
			MaxDepth:        cfg.ForestMaxDepth,
			MinSamplesSplit: cfg.ForestMinSamplesSplit,
			Seed:            cfg.RandomSeed,
			Balanced:        true,
		},
		SyntheticRows:   cfg.SyntheticRows,
		CriteriaWeights: criteria,
		Collaborative:   s.collaborative,
		HistoryLimit:    cfg.CFHistoryLimit,
		Policy: trainer.PolicyConfig{
			RetrainAfter:         time.Duration(cfg.RetrainAfterDays) * 24 * time.Hour,
			NewRows:              cfg.RetrainNewRows,
			DegradationThreshold: cfg.DegradationThreshold,
		},
	}, trainer.WithPublisher(s.producer), trainer.WithClock(s.now))
	return nil
}

func (s *Service) buildPipeline(cfg *config.Config) {
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(cfg.DedupeSize),
		dedupe.WithWindow(cfg.DedupeWindow()),
	)
	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(cfg.PredictionQueueSize),
		eventqueue.WithBufferSize(cfg.PredictionQueueSize),
	)
	s.pool = workerpool.NewPool(cfg.PredictionWorkerCount, s.queue, s.store,
		workerpool.WithNotifier(s.producer),
	)
	s.collector = collector.New(s.store,
		collector.WithTasks(s.upstream.Tasks),
		collector.WithProfiles(s.upstream.Profiles),
		collector.WithInvalidator(s.upstream),
		collector.WithWeights(collector.Weights{
			Time:    cfg.PerformanceTimeWeight,
			Quality: cfg.PerformanceQualityWeight,
		}),
		collector.WithClock(s.now),
	)
	s.consumer = bus.NewConsumer(s.bus, s.collector, s.deduper)
	if cfg.SchedulerEnabled && cfg.ScheduleInterval() > 0 {
		s.scheduler = trainer.NewScheduler(s.trainer, cfg.ScheduleInterval(), true)
	}
}

// Start loads the latest deployed model. Without one the predictor stays cold.
func (s *Service) Start(ctx context.Context) error {
	s.startedAt = s.now()
	h, err := s.store.LatestDeployed(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Info(ctx, "no deployed model, predictor starts cold")
		return nil
	case err != nil:
		return fmt.Errorf("latest deployed model: %w", err)
	}
	m, err := s.registry.Load(ctx, h.ModelVersion)
	if err != nil {
		s.logger.Warn(ctx, "deployed model artifact unavailable, predictor starts cold",
			logger.String("version", h.ModelVersion), logger.Error(err))
		return nil
	}
	s.handle.Swap(m)
	s.logger.Info(ctx, "deployed model loaded",
		logger.String("version", m.Version()),
		logger.Float64("accuracy", m.Metrics().Accuracy),
	)
	return nil
}

// Trainer exposes the trainer for one-shot CLI runs.
func (s *Service) Trainer() *trainer.Trainer { return s.trainer }

// Store exposes the persistence layer for CLI maintenance commands.
func (s *Service) Store() repository.Store { return s.store }

// ConsumerReady is closed once the event consumer subscribed.
func (s *Service) ConsumerReady() <-chan struct{} { return s.consumer.Ready() }

// Close releases every resource. Background services must be stopped first.
func (s *Service) Close() error {
	var errs []error
	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	}
	if s.upstream != nil {
		s.upstream.Close()
	}
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
