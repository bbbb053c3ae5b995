// Package enricher prices every transfer of a job with its receipt fee.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/metrics"
)

// DefaultThrottleWait caps how long a lookup waits on a rate limited provider.
const DefaultThrottleWait = 30 * time.Second

var (
	// ErrInvalidJob is returned for jobs the handler cannot process.
	ErrInvalidJob = errors.New("invalid job")
	// ErrThrottled fails a job whose lookups the provider kept refusing, so the
	// queue retries it later instead of pricing it with the sentinel.
	ErrThrottled = errors.New("fee lookups throttled")
)

// throttled is implemented by provider errors that ask the caller to back off.
type throttled interface {
	error
	RetryAfter() time.Duration
}

// FeeSource looks up the fee fields of one transaction.
type FeeSource interface {
	GetFee(ctx context.Context, hash string) (*domain.FeeData, error)
}

// Handler enriches job chunks. It holds no cycle state.
type Handler struct {
	fees FeeSource
	// concurrency bounds in-flight lookups per job; 0 means the whole chunk
	concurrency  int
	throttleWait time.Duration
	log          *slog.Logger
}

// New creates a handler.
func New(fees FeeSource, concurrency int) *Handler {
	return &Handler{
		fees:         fees,
		concurrency:  concurrency,
		throttleWait: DefaultThrottleWait,
		log:          slog.Default().With("component", "enricher"),
	}
}

// WithThrottleWait overrides DefaultThrottleWait. Zero or less keeps the default.
func (h *Handler) WithThrottleWait(d time.Duration) *Handler {
	if d > 0 {
		h.throttleWait = d
	}
	return h
}

// Handle returns the enriched chunk in input order. A failed lookup is retried
// once; if it still fails, or the receipt lacks fee fields, the record gets the
// sentinel fee. A throttled lookup waits for the provider before its retry and
// fails the job with ErrThrottled if the provider still refuses. A malformed
// job is ErrInvalidJob.
func (h *Handler) Handle(ctx context.Context, job domain.Job) ([]domain.EnrichedTransaction, error) {
	if err := validate(job); err != nil {
		return nil, err
	}

	out := make([]domain.EnrichedTransaction, len(job.Records))

	g, gctx := errgroup.WithContext(ctx)
	if h.concurrency > 0 {
		g.SetLimit(h.concurrency)
	}
	for i, rec := range job.Records {
		g.Go(func() error {
			fee, err := h.lookup(gctx, job.ID, rec.Hash)
			if err != nil {
				return err
			}
			out[i] = domain.Enrich(rec, fee)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}

	fallbacks := 0
	for _, tx := range out {
		if tx.FeeFallback {
			fallbacks++
		}
	}
	if fallbacks > 0 {
		metrics.FeeFallbacks.Add(float64(fallbacks))
	}
	h.log.Debug("Job enriched", "job", job.ID, "cycle", job.Cycle, "records", len(out), "fallbacks", fallbacks)
	return out, nil
}

// lookup returns a nil fee when no usable fee could be obtained. It only
// errors when the provider is still throttling after the wait.
func (h *Handler) lookup(ctx context.Context, jobID, hash string) (*domain.FeeData, error) {
	fee, err := h.fees.GetFee(ctx, hash)
	if err != nil {
		var limit throttled
		if errors.As(err, &limit) {
			wait := min(limit.RetryAfter(), h.throttleWait)
			h.log.Debug("Fee lookup throttled, waiting", "job", jobID, "hash", hash, "wait", wait)
			if err := backoff.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		} else {
			h.log.Debug("Fee lookup failed, retrying", "job", jobID, "hash", hash, "error", err)
		}
		fee, err = h.fees.GetFee(ctx, hash)
	}
	if err != nil {
		var limit throttled
		if errors.As(err, &limit) {
			return nil, fmt.Errorf("%w: %s: %w", ErrThrottled, hash, err)
		}
		h.log.Warn("Fee lookup failed twice, using sentinel", "job", jobID, "hash", hash, "error", err)
		return nil, nil
	}
	if !fee.Complete() {
		h.log.Warn("Receipt missing fee fields, using sentinel", "job", jobID, "hash", hash)
		return nil, nil
	}
	return fee, nil
}

func validate(job domain.Job) error {
	if job.Address == "" {
		return fmt.Errorf("%w: %s has no address", ErrInvalidJob, job.ID)
	}
	if len(job.Records) == 0 {
		return fmt.Errorf("%w: %s has no records", ErrInvalidJob, job.ID)
	}
	for i, rec := range job.Records {
		if rec.Hash == "" {
			return fmt.Errorf("%w: %s record %d has no hash", ErrInvalidJob, job.ID, i)
		}
	}
	return nil
}
