package testevents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/trainer"
	"github.com/okian/assignml/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

const pollInterval = 500 * time.Millisecond

// ErrNotProcessed is returned when the pipeline did not turn the submitted
// pairs into training rows in time.
var ErrNotProcessed = errors.New("events not processed in time")

// Run executes the complete event test: submit every assignment, then every
// completion, wait for the rows to land and check the resulting data quality.
func Run(ctx context.Context, cfg *Config) (trainer.Report, error) {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting assignml event test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("pairs", cfg.Pairs),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	client := newHTTPClient(cfg.Timeout)
	if err := checkServiceHealth(ctx, client, cfg); err != nil {
		return trainer.Report{}, fmt.Errorf("service health check failed: %w", err)
	}

	eventsBefore, err := readStat(ctx, client, cfg, statEvents)
	if err != nil {
		return trainer.Report{}, err
	}
	rowsBefore, err := readStat(ctx, client, cfg, statRows)
	if err != nil {
		return trainer.Report{}, err
	}

	pairs := GeneratePairs(ctx, cfg, stats)
	assignments := make([]model.EventRecord, len(pairs))
	completions := make([]model.EventRecord, len(pairs))
	for i, p := range pairs {
		assignments[i] = p.Assignment
		completions[i] = p.Completion
	}

	// Assignment and completion topics are consumed independently; a completion
	// only joins its assignment if that was recorded first.
	submitEvents(ctx, cfg, assignments, stats)
	if _, err := waitForStat(ctx, client, cfg, statEvents, eventsBefore+len(pairs)); err != nil {
		return trainer.Report{}, err
	}
	submitEvents(ctx, cfg, completions, stats)

	rows, err := waitForStat(ctx, client, cfg, statRows, rowsBefore+len(pairs))
	stats.TrainingRows = rows - rowsBefore
	if err != nil {
		return trainer.Report{}, err
	}

	report, err := verifyDataQuality(ctx, client, cfg)
	if err != nil {
		return trainer.Report{}, fmt.Errorf("data quality check failed: %w", err)
	}

	if err := savePairsToFile(ctx, cfg, pairs); err != nil {
		logger.Get().Warn(ctx, "failed to save events to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return report, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient, cfg *Config) error {
	if err := client.getJSON(ctx, cfg.BaseURL+"/healthz", nil); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// Counters read from /stats.
const (
	statEvents = "eventsTotal"
	statRows   = "trainingRows"
)

func readStat(ctx context.Context, client *HTTPClient, cfg *Config, key string) (int, error) {
	var stats map[string]any
	if err := client.getJSON(ctx, cfg.BaseURL+"/stats", &stats); err != nil {
		return 0, fmt.Errorf("read stats: %w", err)
	}
	v, _ := stats[key].(float64)
	return int(v), nil
}

// waitForStat polls /stats until key reaches want or ProcessTimeout elapses.
func waitForStat(ctx context.Context, client *HTTPClient, cfg *Config, key string, want int) (int, error) {
	logger.Get().Info(ctx, "waiting for events to be processed", logger.String("stat", key), logger.Int("want", want))
	deadline := time.Now().Add(cfg.ProcessTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		got, err := readStat(ctx, client, cfg, key)
		if err != nil {
			return got, err
		}
		if got >= want {
			return got, nil
		}
		if time.Now().After(deadline) {
			return got, fmt.Errorf("%w: %s %d of %d", ErrNotProcessed, key, got, want)
		}
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-ticker.C:
		}
	}
}

// savePairsToFile writes the generated pairs as a JSON array.
func savePairsToFile(ctx context.Context, cfg *Config, pairs []Pair) error {
	filename := cfg.OutputFile
	if filename == "" {
		return nil
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	logger.Get().Info(ctx, "events saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		successRate = float64(stats.EventsSuccessful) / float64(stats.EventsSubmitted) * 100
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("pairsGenerated", stats.PairsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsSuccessful", stats.EventsSuccessful),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("trainingRows", stats.TrainingRows),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
