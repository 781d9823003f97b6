package service

import (
	"context"
	"time"

	"github.com/okian/assignml/pkg/logger"
	"github.com/okian/assignml/pkg/metrics"
)

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	queueLen := s.queue.Len(ctx)
	metrics.UpdateQueueSize(queueLen)

	stats := map[string]any{
		"uptimeSeconds":   0.0,
		"modelVersion":    s.handle.Version(),
		"queueLength":     queueLen,
		"queueCapacity":   s.cfg.PredictionQueueSize,
		"workerCount":     s.cfg.PredictionWorkerCount,
		"dedupeSize":      s.deduper.Size(),
		"eventBackend":    s.cfg.EventBackend,
		"storeDriver":     s.cfg.StoreDriver,
		"breakers":        s.upstream.States(),
		"trainingState":   s.trainer.Status().State,
		"schedulerActive": s.scheduler != nil,
	}
	if !s.startedAt.IsZero() {
		stats["uptimeSeconds"] = s.now().Sub(s.startedAt).Round(time.Second).Seconds()
	}

	if total, unprocessed, err := s.store.EventCounts(ctx); err == nil {
		stats["eventsTotal"] = total
		stats["eventsUnprocessed"] = unprocessed
	} else {
		s.logger.Warn(ctx, "event counts unavailable", logger.Error(err))
	}
	if rows, err := s.store.CountTrainingData(ctx, time.Time{}); err == nil {
		stats["trainingRows"] = rows
	}
	if acc, n, err := s.store.FeedbackAccuracy(ctx, s.now().AddDate(0, 0, -7)); err == nil {
		stats["feedbackCount7d"] = n
		stats["feedbackAccuracy7d"] = acc
	}
	return stats
}
