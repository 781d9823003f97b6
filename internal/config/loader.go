package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "ASSIGNML_"
	envConfigPath = "ASSIGNML_CONFIG"
)

// Load builds a Config by layering defaults, an optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. YAML file if ASSIGNML_CONFIG is set
//  3. env (prefix ASSIGNML_)
func Load(_ context.Context) (*Config, error) {
	cfg := New()
	k := koanf.New(".")

	if path := os.Getenv(envConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// ASSIGNML_STORE_DRIVER -> store_driver; underscores are kept to match the flat tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		if s == "CONFIG" {
			return ""
		}
		return strings.ToLower(s)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Addr == "" {
		return fail("addr must not be empty")
	}
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fail("unknown store_driver %q", c.StoreDriver)
	}
	if c.StoreDriver != StoreMemory && c.StoreDSN == "" {
		return fail("store_dsn is required for %s", c.StoreDriver)
	}
	switch c.EventBackend {
	case BackendGoChannel:
	case BackendNATS:
		if c.NATSURL == "" {
			return fail("nats_url is required for the nats backend")
		}
	default:
		return fail("unknown event_backend %q", c.EventBackend)
	}

	positives := map[string]int{
		"event_retry_max":           c.EventRetryMax,
		"dedupe_size":               c.DedupeSize,
		"dedupe_window_seconds":     c.DedupeWindowSeconds,
		"prediction_queue_size":     c.PredictionQueueSize,
		"prediction_worker_count":   c.PredictionWorkerCount,
		"upstream_timeout_ms":       c.UpstreamTimeoutMS,
		"breaker_failure_threshold": c.BreakerFailureThreshold,
		"profile_cache_entries":     c.ProfileCacheEntries,
		"max_recommendations":       c.MaxRecommendations,
		"cf_neighbors":              c.CFNeighbors,
		"min_rows":                  c.MinRows,
		"forest_trees":              c.ForestTrees,
		"forest_max_depth":          c.ForestMaxDepth,
		"forest_min_samples_split":  c.ForestMinSamplesSplit,
		"schedule_interval_minutes": c.ScheduleIntervalMinutes,
		"max_history_page_size":     c.MaxHistoryPageSize,
	}
	for key, v := range positives {
		if v <= 0 {
			return fail("%s must be positive, got %d", key, v)
		}
	}

	fractions := map[string]float64{
		"external_blend_weight": c.ExternalBlendWeight,
		"cf_min_similarity":     c.CFMinSimilarity,
		"max_null_ratio":        c.MaxNullRatio,
		"min_class_ratio":       c.MinClassRatio,
		"label_threshold":       c.LabelThreshold,
		"regression_tolerance":  c.RegressionTolerance,
		"degradation_threshold": c.DegradationThreshold,
	}
	for key, v := range fractions {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fail("%s must be within [0,1], got %v", key, v)
		}
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		return fail("validation_split must be within (0,1), got %v", c.ValidationSplit)
	}
	if c.PerformanceTimeWeight < 0 || c.PerformanceQualityWeight < 0 ||
		c.PerformanceTimeWeight+c.PerformanceQualityWeight <= 0 {
		return fail("performance weights must be non-negative with a positive sum")
	}

	weights := map[string]map[string]float64{
		"signal_weights":        c.SignalWeights,
		"criteria_weights":      c.CriteriaWeights,
		"cf_similarity_weights": c.CFSimilarityWeights,
	}
	for key, w := range weights {
		if err := validateWeights(w); err != nil {
			return fail("%s: %v", key, err)
		}
	}
	return nil
}

func validateWeights(w map[string]float64) error {
	if len(w) == 0 {
		return fmt.Errorf("no weights")
	}
	var sum float64
	for name, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("weight %q must be a non-negative number", name)
		}
		sum += v
	}
	if sum <= 0 {
		return fmt.Errorf("weights must have a positive sum")
	}
	return nil
}
