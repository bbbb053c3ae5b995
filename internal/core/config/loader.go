package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/txexport/internal/core/domain"
)

// AlchemyURLTemplate builds the provider URL when only an API key is supplied.
const AlchemyURLTemplate = "https://eth-mainnet.g.alchemy.com/v2/%s"

// Load reads configuration from a YAML file. A missing file yields defaults,
// so the exporter can run from environment variables alone.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if cfg.Provider.URL == "" {
		if key := os.Getenv("ALCHEMY_API_KEY"); key != "" {
			cfg.Provider.URL = fmt.Sprintf(AlchemyURLTemplate, key)
		}
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "alchemy"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Provider.PageSize == 0 {
		cfg.Provider.PageSize = 1000
	}

	e := &cfg.Export
	if e.ChunkSize == 0 {
		e.ChunkSize = 50
	}
	if e.CycleThreshold == 0 {
		e.CycleThreshold = 1000
	}
	if e.Workers == 0 {
		e.Workers = 3
	}
	if e.Order == "" {
		e.Order = domain.SortAscending
	}
	if len(e.Categories) == 0 {
		e.Categories = domain.DefaultCategories
	}
	if e.CSVDir == "" {
		e.CSVDir = "csv"
	}
	if e.StallTimeout == 0 {
		e.StallTimeout = 10 * time.Minute
	}
	if e.ThrottleWait == 0 {
		e.ThrottleWait = 30 * time.Second
	}

	if cfg.Queue.Attempts == 0 {
		cfg.Queue.Attempts = 3
	}
	if cfg.Queue.Backoff == 0 {
		cfg.Queue.Backoff = 2 * time.Second
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if c.Export.ChunkSize < 0 || c.Export.CycleThreshold < 0 || c.Export.Workers < 0 {
		return fmt.Errorf("export sizes must be positive")
	}
	if c.Export.Order != domain.SortAscending && c.Export.Order != domain.SortDescending {
		return fmt.Errorf("invalid export order %q", c.Export.Order)
	}
	if c.Provider.PageSize > 1000 {
		return fmt.Errorf("provider page_size %d exceeds 1000", c.Provider.PageSize)
	}
	if c.Provider.DailyComputeUnits < 0 {
		return fmt.Errorf("provider daily_compute_units must not be negative")
	}
	return nil
}
