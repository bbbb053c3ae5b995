package control

import (
	"context"

	"github.com/vietddude/txexport/internal/core/config"
	"github.com/vietddude/txexport/internal/exporting/export"
	"github.com/vietddude/txexport/internal/infra/chain"
	"github.com/vietddude/txexport/internal/infra/queue"
	redisclient "github.com/vietddude/txexport/internal/infra/redis"
	"github.com/vietddude/txexport/internal/infra/rpc/budget"
	"github.com/vietddude/txexport/internal/infra/rpc/provider"
	"github.com/vietddude/txexport/internal/infra/storage/postgres"
)

// Config holds the settings the exporter app needs.
type Config struct {
	Port     int
	Provider config.ProviderConfig
	Export   config.ExportConfig
	Queue    config.QueueConfig
	Redis    redisclient.Config
	Database postgres.Config
}

// FromAppConfig transforms the loaded file config.
func FromAppConfig(cfg *config.AppConfig) Config {
	return Config{
		Port:     cfg.Server.Port,
		Provider: cfg.Provider,
		Export:   cfg.Export,
		Queue:    cfg.Queue,
		Redis:    cfg.Redis,
		Database: cfg.Database,
	}
}

// RunRecorder persists the lifecycle of an export run.
type RunRecorder interface {
	StartRun(ctx context.Context, address string) (string, error)
	FinishRun(ctx context.Context, runID string, runErr error) error
}

// StoreFactory opens the job store backing the queue of one address.
type StoreFactory func(queueName string) (queue.Store, error)

// Deps are the external resources the app is assembled from.
// NewApp builds them from Config; tests supply fakes.
type Deps struct {
	Adapter  chain.Adapter
	Provider provider.Provider // optional; health reporting and Close
	Budget   *budget.Tracker   // optional; health reporting
	NewStore StoreFactory
	Exporter export.Exporter
	Runs     RunRecorder // optional
	// Closers run last on shutdown, in order
	Closers []func() error
}
