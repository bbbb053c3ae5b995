// Package export defines the sink a flushed batch is handed to and
// composes several sinks into one.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/metrics"
)

// ErrExportIO wraps every failure to persist a batch.
var ErrExportIO = errors.New("export io")

// Exporter persists one flushed batch.
type Exporter interface {
	Export(ctx context.Context, batch domain.Batch) error
}

// Func adapts a plain function to Exporter.
type Func func(ctx context.Context, batch domain.Batch) error

func (f Func) Export(ctx context.Context, batch domain.Batch) error { return f(ctx, batch) }

// Multi fans a batch out to each exporter in order. The first error stops the fan-out.
type Multi []Exporter

func (m Multi) Export(ctx context.Context, batch domain.Batch) error {
	for _, e := range m {
		if err := e.Export(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// Retrying re-attempts a failed export with exponential backoff.
type Retrying struct {
	Next    Exporter
	Backoff backoff.Exponential
	log     *slog.Logger
}

// NewRetrying wraps next with the given policy.
func NewRetrying(next Exporter, policy backoff.Exponential) *Retrying {
	return &Retrying{Next: next, Backoff: policy, log: slog.Default().With("component", "exporter")}
}

func (r *Retrying) Export(ctx context.Context, batch domain.Batch) error {
	for attempt := 0; ; attempt++ {
		lastErr := r.Next.Export(ctx, batch)
		if lastErr == nil {
			return nil
		}
		if r.Backoff.Exhausted(attempt + 1) {
			return fmt.Errorf("export batch %d after %d attempts: %w", batch.Index, attempt+1, lastErr)
		}
		metrics.ExportRetries.Inc()
		delay := r.Backoff.Delay(attempt)
		r.log.Warn("Export failed, retrying",
			"batch", batch.Index,
			"attempt", attempt+1,
			"delay", delay,
			"error", lastErr,
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("export batch %d: %w", batch.Index, errors.Join(lastErr, err))
		}
	}
}
