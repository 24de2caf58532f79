// Package common provides shared utilities for the worker daemon.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the worker daemon.
type Config struct {
	Environment string       `toml:"environment"`
	Identity    string       `toml:"identity"` // worker identity used for lock ownership; defaults to hostname
	Mongo       MongoConfig  `toml:"mongo"`
	Worker      WorkerConfig `toml:"worker"`
	Logging     LoggingConfig `toml:"logging"`
}

// MongoConfig holds MongoDB connection configuration for the queue, lock and
// journal collections.
type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	QueueColl  string `toml:"queue_collection"`
	LockColl   string `toml:"lock_collection"`
	JournalColl string `toml:"journal_collection"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// GetConnectTimeout parses and returns the connect timeout duration, falling
// back to 10s if unset or invalid.
func (c *MongoConfig) GetConnectTimeout() time.Duration {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ExecutionPlanConfig holds the tick interval, in seconds, for each
// cooperative scheduler phase.
type ExecutionPlanConfig struct {
	WorkJobsSecs     int `toml:"work_jobs_secs"`
	RemoveJobsSecs   int `toml:"remove_jobs_secs"`
	FlagJobsSecs     int `toml:"flag_jobs_secs"`
	CollectStatsSecs int `toml:"collect_stats_secs"`
}

// WorkerConfig holds execution-plan timing and resource admission settings
// for the scheduler.
type WorkerConfig struct {
	ExecutionPlan ExecutionPlanConfig `toml:"execution_plan"`
	AvgStatsSecs  int                 `toml:"avg_stats_secs"`
	MaxCPU        float64             `toml:"max_cpu"`
	MinFreeRAM    float64             `toml:"min_free_ram"` // megabytes
	WallTimeSecs  int                 `toml:"wall_time_secs"`
	ZombieSecs    int                 `toml:"zombie_secs"`
}

// GetAvgStatsInterval returns the duration of the rolling resource-sample
// window, falling back to 60s when unset or non-positive.
func (w *WorkerConfig) GetAvgStatsInterval() time.Duration {
	if w.AvgStatsSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(w.AvgStatsSecs) * time.Second
}

// GetWallTime returns the configured worker wall-time setting, falling back
// to 1 hour. The supervisor's non-stop flag uses each job's own wall_time;
// jobs without one are never flagged, and this value is not applied to them.
func (w *WorkerConfig) GetWallTime() time.Duration {
	if w.WallTimeSecs <= 0 {
		return time.Hour
	}
	return time.Duration(w.WallTimeSecs) * time.Second
}

// GetZombieTime returns the configured worker zombie-time setting, falling
// back to 5 minutes. The supervisor's zombie flag uses each job's own
// zombie_time as the heartbeat staleness threshold, not this value.
func (w *WorkerConfig) GetZombieTime() time.Duration {
	if w.ZombieSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(w.ZombieSecs) * time.Second
}

// GetMaxCPU returns the admission-gating CPU percentage ceiling, falling
// back to 90.
func (w *WorkerConfig) GetMaxCPU() float64 {
	if w.MaxCPU <= 0 {
		return 90
	}
	return w.MaxCPU
}

// GetMinFreeRAM returns the admission-gating minimum free RAM in megabytes,
// falling back to 256.
func (w *WorkerConfig) GetMinFreeRAM() float64 {
	if w.MinFreeRAM <= 0 {
		return 256
	}
	return w.MinFreeRAM
}

// intervalOrDefault returns secs as a duration, falling back to def when secs
// is non-positive. Shared by the four execution-plan accessors below.
func intervalOrDefault(secs, def int) time.Duration {
	if secs <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(secs) * time.Second
}

// GetWorkJobsInterval returns the work_jobs phase tick interval, default 5s.
func (w *WorkerConfig) GetWorkJobsInterval() time.Duration {
	return intervalOrDefault(w.ExecutionPlan.WorkJobsSecs, 5)
}

// GetRemoveJobsInterval returns the remove_jobs phase tick interval, default 10s.
func (w *WorkerConfig) GetRemoveJobsInterval() time.Duration {
	return intervalOrDefault(w.ExecutionPlan.RemoveJobsSecs, 10)
}

// GetFlagJobsInterval returns the flag_jobs phase tick interval, default 30s.
func (w *WorkerConfig) GetFlagJobsInterval() time.Duration {
	return intervalOrDefault(w.ExecutionPlan.FlagJobsSecs, 30)
}

// GetCollectStatsInterval returns the collect_stats phase tick interval, default 15s.
func (w *WorkerConfig) GetCollectStatsInterval() time.Duration {
	return intervalOrDefault(w.ExecutionPlan.CollectStatsSecs, 15)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}

	return &Config{
		Environment: "development",
		Identity:    hostname,
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "corequeue",
			QueueColl:      "jobs",
			LockColl:       "lock",
			JournalColl:    "journal",
			ConnectTimeout: "10s",
		},
		Worker: WorkerConfig{
			ExecutionPlan: ExecutionPlanConfig{
				WorkJobsSecs:     5,
				RemoveJobsSecs:   10,
				FlagJobsSecs:     30,
				CollectStatsSecs: 15,
			},
			AvgStatsSecs: 60,
			MaxCPU:       90,
			MinFreeRAM:   256,
			WallTimeSecs: 3600,
			ZombieSecs:   300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./logs/worker.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUEUE_ENV"); env != "" {
		config.Environment = env
	}

	if id := os.Getenv("QUEUE_IDENTITY"); id != "" {
		config.Identity = id
	}

	if level := os.Getenv("QUEUE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if uri := os.Getenv("QUEUE_MONGO_URI"); uri != "" {
		config.Mongo.URI = uri
	}

	if db := os.Getenv("QUEUE_MONGO_DATABASE"); db != "" {
		config.Mongo.Database = db
	}

	if v := os.Getenv("QUEUE_MAX_CPU"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Worker.MaxCPU = f
		}
	}

	if v := os.Getenv("QUEUE_MIN_FREE_RAM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Worker.MinFreeRAM = f
		}
	}

	if v := os.Getenv("QUEUE_WORK_JOBS_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.ExecutionPlan.WorkJobsSecs = n
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
