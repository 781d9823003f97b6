// Package config defines the engine configuration and its loading hooks.
//
// Conventions:
// - Keys are flat snake_case so every field can be set from the environment.
// - New() returns a Config populated with defaults; Load layers file and env on top.
// - Durations are expressed as integer seconds, minutes or milliseconds in the key name.
package config

import (
	"time"
)

// Storage drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Event bus backends.
const (
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EventBackend selects the message transport: gochannel or nats.
	EventBackend string `koanf:"event_backend"`
	// NATSURL is used when EventBackend is nats.
	NATSURL string `koanf:"nats_url"`
	// ConsumerGroup names the queue group shared by engine replicas.
	ConsumerGroup string `koanf:"consumer_group"`
	// EventRetryMax bounds handler retries before a message is poison-queued.
	EventRetryMax int `koanf:"event_retry_max"`
	// EventRetryInitialMS is the first retry backoff.
	EventRetryInitialMS int `koanf:"event_retry_initial_ms"`

	// DedupeSize caps the number of remembered event ids.
	DedupeSize int `koanf:"dedupe_size"`
	// DedupeWindowSeconds is how long an event id is remembered.
	DedupeWindowSeconds int `koanf:"dedupe_window_seconds"`

	// StoreDriver selects persistence: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	// StoreDSN is the driver specific data source name.
	StoreDSN string `koanf:"store_dsn"`
	// RegistryPath is the badger directory for model artifacts; empty keeps it in memory.
	RegistryPath string `koanf:"registry_path"`

	// PredictionQueueSize bounds the asynchronous prediction log queue.
	PredictionQueueSize int `koanf:"prediction_queue_size"`
	// PredictionWorkerCount sets the number of prediction log writers.
	PredictionWorkerCount int `koanf:"prediction_worker_count"`

	// Upstream collaborators. An empty URL runs that capability degraded.
	ProfileServiceURL       string `koanf:"profile_service_url"`
	TaskServiceURL          string `koanf:"task_service_url"`
	WorkloadServiceURL      string `koanf:"workload_service_url"`
	ExternalRecommenderURL  string `koanf:"external_recommender_url"`
	UpstreamTimeoutMS       int    `koanf:"upstream_timeout_ms"`
	BreakerFailureThreshold int    `koanf:"breaker_failure_threshold"`
	BreakerOpenSeconds      int    `koanf:"breaker_open_seconds"`
	// ProfileFreshnessSeconds bounds how long a fetched profile may be reused.
	ProfileFreshnessSeconds int `koanf:"profile_freshness_seconds"`
	// ProfileCacheEntries caps the number of cached candidate profiles.
	ProfileCacheEntries int `koanf:"profile_cache_entries"`

	// MaxRecommendations truncates the ranked list.
	MaxRecommendations int `koanf:"max_recommendations"`
	// ExternalBlendWeight is the share of the external score in the overall score.
	ExternalBlendWeight float64 `koanf:"external_blend_weight"`
	// SignalWeights weighs content, collaborative, mcda and ensemble signals.
	SignalWeights map[string]float64 `koanf:"signal_weights"`
	// CriteriaWeights are the AHP weights of the MCDA criteria.
	CriteriaWeights map[string]float64 `koanf:"criteria_weights"`
	// CFSimilarityWeights blends the skills, department and seniority similarity terms.
	CFSimilarityWeights map[string]float64 `koanf:"cf_similarity_weights"`
	CFMinSimilarity     float64            `koanf:"cf_min_similarity"`
	CFNeighbors         int                `koanf:"cf_neighbors"`
	CFHistoryLimit      int                `koanf:"cf_history_limit"`

	// Performance label blend used by the collector.
	PerformanceTimeWeight    float64 `koanf:"performance_time_weight"`
	PerformanceQualityWeight float64 `koanf:"performance_quality_weight"`

	// Training data quality gates.
	MinRows         int     `koanf:"min_rows"`
	MaxNullRatio    float64 `koanf:"max_null_ratio"`
	MinClassRatio   float64 `koanf:"min_class_ratio"`
	ValidationSplit float64 `koanf:"validation_split"`
	LabelThreshold  float64 `koanf:"label_threshold"`
	// RegressionTolerance is the largest accuracy or F1 drop still deployed.
	RegressionTolerance float64 `koanf:"regression_tolerance"`

	// Forest hyper-parameters.
	ForestTrees           int   `koanf:"forest_trees"`
	ForestMaxDepth        int   `koanf:"forest_max_depth"`
	ForestMinSamplesSplit int   `koanf:"forest_min_samples_split"`
	RandomSeed            int64 `koanf:"random_seed"`

	// Retrain scheduling.
	SchedulerEnabled        bool    `koanf:"scheduler_enabled"`
	ScheduleIntervalMinutes int     `koanf:"schedule_interval_minutes"`
	RetrainAfterDays        int     `koanf:"retrain_after_days"`
	RetrainNewRows          int     `koanf:"retrain_new_rows"`
	DegradationThreshold    float64 `koanf:"degradation_threshold"`
	SyntheticRows           int     `koanf:"synthetic_rows"`

	// MaxHistoryPageSize caps GET /v1/training/history?size.
	MaxHistoryPageSize int `koanf:"max_history_page_size"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		Addr:                     ":9080",
		EventBackend:             BackendGoChannel,
		NATSURL:                  "nats://127.0.0.1:4222",
		ConsumerGroup:            "assignml",
		EventRetryMax:            3,
		EventRetryInitialMS:      100,
		DedupeSize:               100_000,
		DedupeWindowSeconds:      86_400,
		StoreDriver:              StoreMemory,
		PredictionQueueSize:      10_000,
		PredictionWorkerCount:    4,
		UpstreamTimeoutMS:        2_000,
		BreakerFailureThreshold:  5,
		BreakerOpenSeconds:       30,
		ProfileFreshnessSeconds:  300,
		ProfileCacheEntries:      10_000,
		MaxRecommendations:       10,
		ExternalBlendWeight:      0.3,
		SignalWeights:            map[string]float64{"content": 0.25, "collaborative": 0.25, "mcda": 0.25, "ensemble": 0.25},
		CriteriaWeights:          map[string]float64{"skill_match": 0.35, "workload": 0.25, "performance": 0.20, "availability": 0.15, "collaboration": 0.05},
		CFSimilarityWeights:      map[string]float64{"skills": 0.60, "department": 0.25, "seniority": 0.15},
		CFMinSimilarity:          0.3,
		CFNeighbors:              5,
		CFHistoryLimit:           500,
		PerformanceTimeWeight:    0.5,
		PerformanceQualityWeight: 0.5,
		MinRows:                  100,
		MaxNullRatio:             0.2,
		MinClassRatio:            0.1,
		ValidationSplit:          0.2,
		LabelThreshold:           0.7,
		RegressionTolerance:      0.02,
		ForestTrees:              50,
		ForestMaxDepth:           8,
		ForestMinSamplesSplit:    4,
		RandomSeed:               42,
		SchedulerEnabled:         true,
		ScheduleIntervalMinutes:  60,
		RetrainAfterDays:         7,
		RetrainNewRows:           100,
		DegradationThreshold:     0.05,
		SyntheticRows:            500,
		MaxHistoryPageSize:       100,
	}
}

// UpstreamTimeout returns the per-call upstream timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMS) * time.Millisecond
}

// DedupeWindow returns how long consumed event ids are remembered.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowSeconds) * time.Second
}

// ProfileFreshness returns the profile cache lifetime.
func (c *Config) ProfileFreshness() time.Duration {
	return time.Duration(c.ProfileFreshnessSeconds) * time.Second
}

// ScheduleInterval returns the retrain scheduler tick.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.ScheduleIntervalMinutes) * time.Minute
}
