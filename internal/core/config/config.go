package config

import (
	"time"

	"github.com/vietddude/txexport/internal/core/domain"
	redisclient "github.com/vietddude/txexport/internal/infra/redis"
	"github.com/vietddude/txexport/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Provider ProviderConfig     `yaml:"provider"`
	Export   ExportConfig       `yaml:"export"`
	Queue    QueueConfig        `yaml:"queue"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings. Port 0 disables the health server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProviderConfig holds settings for the Alchemy-compatible RPC endpoint.
type ProviderConfig struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"` // maxCount per asset transfer page

	// DailyComputeUnits caps compute units spent per day; 0 = unlimited
	DailyComputeUnits int `yaml:"daily_compute_units"`
}

// ExportConfig controls batching, enrichment and output.
type ExportConfig struct {
	ChunkSize         int               `yaml:"chunk_size"`      // records per job
	CycleThreshold    int               `yaml:"cycle_threshold"` // records that start a cycle
	Workers           int               `yaml:"workers"`
	LookupConcurrency int               `yaml:"lookup_concurrency"` // 0 = whole chunk at once
	ExcludeZero       *bool             `yaml:"exclude_zero"`
	Order             domain.SortOrder  `yaml:"order"`
	Categories        []domain.Category `yaml:"categories"`
	CSVDir            string            `yaml:"csv_dir"`
	StallTimeout      time.Duration     `yaml:"stall_timeout"`
	ThrottleWait      time.Duration     `yaml:"throttle_wait"`
}

// ExcludeZeroValue resolves the optional flag.
func (c ExportConfig) ExcludeZeroValue() bool {
	return c.ExcludeZero == nil || *c.ExcludeZero
}

// QueueConfig holds job retry options.
type QueueConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}
