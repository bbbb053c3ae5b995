// Package paginator drives the two-direction transfer listing and hands
// accumulated records to the dispatcher one cycle at a time.
package paginator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txexport/internal/core/domain"
)

// ErrCycleStalled is returned when a cycle does not resolve within the stall timeout.
var ErrCycleStalled = errors.New("cycle stalled")

// DefaultCycleThreshold is the number of pending records that starts a cycle.
const DefaultCycleThreshold = 1000

// PageFetcher fetches one page of one direction.
type PageFetcher interface {
	FetchPage(ctx context.Context, address string, dir domain.Direction, cursor *string) ([]domain.TransferRecord, *string, error)
}

// CycleSubmitter hands a batch to the enrichment pipeline.
type CycleSubmitter interface {
	SubmitCycle(ctx context.Context, address string, records []domain.TransferRecord) (<-chan error, error)
}

// Options configures the paginator.
type Options struct {
	CycleThreshold int
	// StallTimeout bounds the wait for one cycle; 0 waits indefinitely
	StallTimeout time.Duration
}

// Summary describes a finished run.
type Summary struct {
	Cycles  int `json:"cycles"`
	Records int `json:"records"`
	Pages   int `json:"pages"`
}

// Paginator runs the fetch, dispatch, await loop for one address.
type Paginator struct {
	fetcher   PageFetcher
	submitter CycleSubmitter
	opts      Options
	log       *slog.Logger
}

// New creates a paginator.
func New(fetcher PageFetcher, submitter CycleSubmitter, opts Options) *Paginator {
	if opts.CycleThreshold <= 0 {
		opts.CycleThreshold = DefaultCycleThreshold
	}
	return &Paginator{
		fetcher:   fetcher,
		submitter: submitter,
		opts:      opts,
		log:       slog.Default().With("component", "paginator"),
	}
}

// Run pages both directions until they are exhausted and every pending
// record has been flushed. Cycles flushed before an error remain exported.
func (p *Paginator) Run(ctx context.Context, address string) (Summary, error) {
	var summary Summary
	cursors := make([]*domain.Cursor, len(domain.Directions))
	for i, dir := range domain.Directions {
		cursors[i] = domain.NewCursor(dir)
	}

	var pending []domain.TransferRecord
	for {
		var active []*domain.Cursor
		for _, c := range cursors {
			if c.HasMore() {
				active = append(active, c)
			}
		}
		if len(active) == 0 {
			break
		}

		pages, nexts, err := p.fetchRound(ctx, address, active)
		if err != nil {
			return summary, err
		}
		for i, c := range active {
			c.Advance(nexts[i])
			pending = append(pending, pages[i]...)
			summary.Pages++
		}

		exhausted := true
		for _, c := range cursors {
			if c.HasMore() {
				exhausted = false
			}
		}

		if len(pending) >= p.opts.CycleThreshold || (exhausted && len(pending) > 0) {
			if err := p.dispatch(ctx, address, pending); err != nil {
				return summary, err
			}
			summary.Cycles++
			summary.Records += len(pending)
			pending = nil
		}
	}

	if summary.Records == 0 {
		p.log.Info("No more transactions", "address", address)
	} else {
		p.log.Info("All transfers exported",
			"address", address,
			"cycles", summary.Cycles,
			"records", summary.Records,
			"pages", summary.Pages,
		)
	}
	return summary, nil
}

// fetchRound fetches one page of every active direction concurrently.
// Any error discards the whole round.
func (p *Paginator) fetchRound(
	ctx context.Context,
	address string,
	active []*domain.Cursor,
) ([][]domain.TransferRecord, []*string, error) {
	pages := make([][]domain.TransferRecord, len(active))
	nexts := make([]*string, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range active {
		g.Go(func() error {
			recs, next, err := p.fetcher.FetchPage(gctx, address, c.Direction, c.PageKey)
			if err != nil {
				return err
			}
			pages[i] = recs
			nexts[i] = next
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return pages, nexts, nil
}

// dispatch submits one cycle and waits for its future.
func (p *Paginator) dispatch(ctx context.Context, address string, records []domain.TransferRecord) error {
	done, err := p.submitter.SubmitCycle(ctx, address, records)
	if err != nil {
		return fmt.Errorf("dispatch cycle: %w", err)
	}

	var stall <-chan time.Time
	if p.opts.StallTimeout > 0 {
		timer := time.NewTimer(p.opts.StallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		return nil
	case <-stall:
		return fmt.Errorf("%w: no completion within %s", ErrCycleStalled, p.opts.StallTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
