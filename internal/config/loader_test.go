package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/assignml/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigDefaults(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := config.New()

		convey.Convey("Then it is valid and carries the documented defaults", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.EventBackend, convey.ShouldEqual, config.BackendGoChannel)
			convey.So(cfg.MaxRecommendations, convey.ShouldEqual, 10)
			convey.So(cfg.CFMinSimilarity, convey.ShouldEqual, 0.3)
			convey.So(cfg.SignalWeights["ensemble"], convey.ShouldEqual, 0.25)
			convey.So(cfg.CriteriaWeights["skill_match"], convey.ShouldEqual, 0.35)
			convey.So(cfg.DedupeWindow().Hours(), convey.ShouldEqual, 24)
			convey.So(cfg.ProfileCacheEntries, convey.ShouldEqual, 10_000)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.ForestTrees, convey.ShouldEqual, 50)
		})

		convey.Convey("When environment variables are set", func() {
			_ = os.Setenv("ASSIGNML_ADDR", ":8080")
			_ = os.Setenv("ASSIGNML_MIN_ROWS", "250")
			_ = os.Setenv("ASSIGNML_REGRESSION_TOLERANCE", "0.05")
			_ = os.Setenv("ASSIGNML_SCHEDULER_ENABLED", "false")
			_ = os.Setenv("ASSIGNML_PROFILE_CACHE_ENTRIES", "64")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.MinRows, convey.ShouldEqual, 250)
			convey.So(cfg.RegressionTolerance, convey.ShouldEqual, 0.05)
			convey.So(cfg.SchedulerEnabled, convey.ShouldBeFalse)
			convey.So(cfg.ProfileCacheEntries, convey.ShouldEqual, 64)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
		})

		convey.Convey("When a YAML file overrides weights and env overrides the file", func() {
			path := writeConfigFile(t, `
addr: ":9090"
store_driver: sqlite
store_dsn: "file:assignml.db"
criteria_weights:
  skill_match: 0.5
  workload: 0.2
  performance: 0.1
  availability: 0.1
  collaboration: 0.1
`)
			_ = os.Setenv("ASSIGNML_CONFIG", path)
			_ = os.Setenv("ASSIGNML_ADDR", ":7070")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
			convey.So(cfg.CriteriaWeights["skill_match"], convey.ShouldEqual, 0.5)
			convey.So(cfg.MaxRecommendations, convey.ShouldEqual, 10)
		})

		convey.Convey("When the file does not exist", func() {
			_ = os.Setenv("ASSIGNML_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the YAML is malformed", func() {
			_ = os.Setenv("ASSIGNML_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When a numeric env var is not a number", func() {
			_ = os.Setenv("ASSIGNML_FOREST_TREES", "many")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When addr is empty", func() {
			_ = os.Setenv("ASSIGNML_ADDR", "")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
		})
	})
}

func TestConfigValidate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("A SQL driver without a DSN is rejected", func() {
			cfg.StoreDriver = config.StorePostgres
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("An unknown backend is rejected", func() {
			cfg.EventBackend = "kafka"
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("Negative criteria weights are rejected", func() {
			cfg.CriteriaWeights["workload"] = -0.1
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "criteria_weights")
		})

		convey.Convey("All-zero signal weights are rejected", func() {
			cfg.SignalWeights = map[string]float64{"content": 0, "mcda": 0}
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "positive sum")
		})

		convey.Convey("Out of range fractions are rejected", func() {
			cfg.ValidationSplit = 1
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("Non-positive counts are rejected", func() {
			cfg.ForestTrees = 0
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "forest_trees")
		})

		convey.Convey("An empty profile cache is rejected", func() {
			cfg.ProfileCacheEntries = 0
			convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "profile_cache_entries")
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assignml.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "ASSIGNML_") {
			_ = os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
}
