package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/core/config"
	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/dispatcher"
	"github.com/vietddude/txexport/internal/exporting/enricher"
	"github.com/vietddude/txexport/internal/exporting/export"
	"github.com/vietddude/txexport/internal/exporting/fetcher"
	"github.com/vietddude/txexport/internal/exporting/health"
	"github.com/vietddude/txexport/internal/exporting/paginator"
	"github.com/vietddude/txexport/internal/infra/chain/alchemy"
	csvexport "github.com/vietddude/txexport/internal/infra/csv"
	"github.com/vietddude/txexport/internal/infra/queue"
	redisclient "github.com/vietddude/txexport/internal/infra/redis"
	"github.com/vietddude/txexport/internal/infra/rpc/budget"
	"github.com/vietddude/txexport/internal/infra/rpc/provider"
	"github.com/vietddude/txexport/internal/infra/rpc/routing"
	"github.com/vietddude/txexport/internal/infra/storage/postgres"
)

// ErrRunActive is returned when Run is called while another run is in progress.
var ErrRunActive = errors.New("export run already active")

// App owns every resource of an export: provider, queue, store, exporters
// and the health server. Shutdown releases them exactly once.
type App struct {
	cfg      Config
	deps     Deps
	exporter export.Exporter
	health   *health.Server
	db       *postgres.DB
	log      *slog.Logger

	mu         sync.Mutex
	running    bool
	address    string
	dispatcher *dispatcher.Dispatcher
	queue      *queue.Queue

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApp connects to the configured provider, Redis and Postgres and
// assembles the app.
func NewApp(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Provider.URL == "" {
		return nil, errors.New("provider url is required (set provider.url or ALCHEMY_API_KEY)")
	}

	prov := provider.NewHTTPProvider(cfg.Provider.Name, cfg.Provider.URL, cfg.Provider.Timeout)
	tracker := budget.NewTracker(cfg.Provider.DailyComputeUnits, budget.DefaultWeights())
	deps := Deps{
		Adapter:  alchemy.NewAdapter(budget.NewCaller(prov, tracker), routing.DefaultRetryConfig),
		Provider: prov,
		Budget:   tracker,
		NewStore: func(string) (queue.Store, error) { return queue.NewMemoryStore(), nil },
	}

	exporters := export.Multi{csvexport.NewWriter(cfg.Export.CSVDir)}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.NewStore = func(name string) (queue.Store, error) {
			return redisclient.NewJobStore(client, name), nil
		}
		deps.Closers = append(deps.Closers, client.Close)
		slog.Info("Using Redis job store")
	}

	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			closeAll(deps.Closers)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			closeAll(deps.Closers)
			return nil, err
		}
		repo := postgres.NewExportRepo(db)
		exporters = append(exporters, repo)
		deps.Runs = repo
		deps.Closers = append(deps.Closers, db.Close)
		slog.Info("Using Postgres export sink")
	}

	deps.Exporter = export.NewRetrying(exporters, retryPolicy(cfg.Queue))

	app := NewWithDeps(cfg, deps)
	app.db = db
	return app, nil
}

// NewWithDeps assembles the app from prebuilt dependencies.
func NewWithDeps(cfg Config, deps Deps) *App {
	a := &App{
		cfg:      cfg,
		deps:     deps,
		exporter: deps.Exporter,
		log:      slog.Default().With("component", "app"),
	}
	if cfg.Port > 0 {
		var prov health.ProviderSource
		if deps.Provider != nil {
			prov = deps.Provider
		}
		monitor := health.NewMonitor(a, prov, a.currentAddress)
		if deps.Budget != nil {
			monitor.WithBudget(deps.Budget)
		}
		a.health = health.NewServer(monitor, cfg.Port)
	}
	return a
}

// Start launches background services: the health server and DB metrics.
func (a *App) Start(ctx context.Context) {
	if a.health != nil {
		go func() {
			if err := a.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
		a.log.Info("Health server listening", "port", a.cfg.Port)
	}
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
}

// Run exports the full transfer history of address. Batches flushed before
// an error stay exported; Shutdown flushes whatever the failed cycle buffered.
func (a *App) Run(ctx context.Context, address string) (paginator.Summary, error) {
	addr, err := domain.NormalizeAddress(address)
	if err != nil {
		return paginator.Summary{}, err
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return paginator.Summary{}, ErrRunActive
	}
	a.running = true
	a.address = addr
	a.mu.Unlock()

	runID := uuid.NewString()
	if a.deps.Runs != nil {
		runID, err = a.deps.Runs.StartRun(ctx, addr)
		if err != nil {
			return paginator.Summary{}, fmt.Errorf("start run: %w", err)
		}
	}
	log := a.log.With("address", addr, "run", runID)

	q, d, err := a.pipeline(ctx, addr, runID)
	if err != nil {
		a.finishRun(ctx, runID, err)
		return paginator.Summary{}, err
	}
	q.Start(ctx)

	fetch := fetcher.New(a.deps.Adapter, fetcher.Options{
		Categories:       a.cfg.Export.Categories,
		Order:            a.cfg.Export.Order,
		ExcludeZeroValue: a.cfg.Export.ExcludeZeroValue(),
		PageSize:         a.cfg.Provider.PageSize,
	})
	pag := paginator.New(fetch, d, paginator.Options{
		CycleThreshold: a.cfg.Export.CycleThreshold,
		StallTimeout:   a.cfg.Export.StallTimeout,
	})

	log.Info("Export started")
	start := time.Now()
	summary, runErr := pag.Run(ctx, addr)
	a.finishRun(ctx, runID, runErr)
	if runErr != nil {
		log.Error("Export failed", "error", runErr, "cycles", summary.Cycles, "records", summary.Records)
		return summary, runErr
	}

	stats := d.Snapshot()
	log.Info("Export finished",
		"cycles", summary.Cycles,
		"records", summary.Records,
		"batches", stats.Batches,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return summary, nil
}

// pipeline builds the queue and dispatcher of one run and wires their callbacks.
func (a *App) pipeline(ctx context.Context, addr, runID string) (*queue.Queue, *dispatcher.Dispatcher, error) {
	// Store keys use the full address; the short form only labels logs.
	store, err := a.deps.NewStore(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}

	handler := enricher.New(a.deps.Adapter, a.cfg.Export.LookupConcurrency).
		WithThrottleWait(a.cfg.Export.ThrottleWait)
	q := queue.New(domain.ShortAddress(addr), store, handler.Handle, queue.Options{
		Workers: a.cfg.Export.Workers,
		Backoff: retryPolicy(a.cfg.Queue),
	})
	// Job ids repeat across runs; leftovers of an earlier process would be taken as duplicates.
	if err := q.Drain(ctx); err != nil {
		_ = q.Close()
		return nil, nil, err
	}

	d := dispatcher.New(q, a.exporter, a.cfg.Export.ChunkSize, runID)
	q.OnComplete(d.OnCompleted)
	q.OnFailed(d.OnFailed)

	a.mu.Lock()
	a.queue = q
	a.dispatcher = d
	a.mu.Unlock()
	return q, d, nil
}

func (a *App) finishRun(ctx context.Context, runID string, runErr error) {
	if a.deps.Runs == nil {
		return
	}
	if err := a.deps.Runs.FinishRun(context.WithoutCancel(ctx), runID, runErr); err != nil {
		a.log.Warn("Failed to record run result", "run", runID, "error", err)
	}
}

// Snapshot returns the counters of the current run's dispatcher.
func (a *App) Snapshot() dispatcher.Stats {
	a.mu.Lock()
	d := a.dispatcher
	a.mu.Unlock()
	if d == nil {
		return dispatcher.Stats{}
	}
	return d.Snapshot()
}

func (a *App) currentAddress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.address
}

// Shutdown flushes a processing cycle's buffered results once, then drains
// and closes the queue and every external resource. Later calls return the
// first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("Shutting down...")
	var errs []error

	a.mu.Lock()
	d, q := a.dispatcher, a.queue
	a.mu.Unlock()

	if d != nil {
		if err := d.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain results: %w", err))
		}
	}
	if q != nil {
		if err := q.Drain(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.health != nil {
		if err := a.health.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop health server: %w", err))
		}
	}
	if a.deps.Provider != nil {
		if err := a.deps.Provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider: %w", err))
		}
	}
	for _, c := range a.deps.Closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.log.Info("Shutdown complete")
	return nil
}

// retryPolicy turns the queue settings into the shared backoff.
func retryPolicy(cfg config.QueueConfig) backoff.Exponential {
	policy := backoff.Default()
	if cfg.Attempts > 0 {
		policy.MaxAttempts = cfg.Attempts
	}
	if cfg.Backoff > 0 {
		policy.InitialDelay = cfg.Backoff
	}
	return policy
}

func closeAll(closers []func() error) {
	for _, c := range closers {
		_ = c()
	}
}
