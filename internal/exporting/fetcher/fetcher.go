// Package fetcher retrieves single pages of a wallet's transfer history.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/metrics"
	"github.com/vietddude/txexport/internal/infra/chain"
)

// TransferLister is the slice of chain.Adapter the fetcher needs.
type TransferLister interface {
	ListTransfers(ctx context.Context, q chain.TransferQuery) (*chain.TransferPage, error)
}

// Options narrow every query issued by the fetcher.
type Options struct {
	Categories       []domain.Category
	Order            domain.SortOrder
	ExcludeZeroValue bool
	PageSize         int
}

// Fetcher issues one provider request per page.
type Fetcher struct {
	lister TransferLister
	opts   Options
	log    *slog.Logger
}

// New creates a fetcher.
func New(lister TransferLister, opts Options) *Fetcher {
	return &Fetcher{
		lister: lister,
		opts:   opts,
		log:    slog.Default().With("component", "fetcher"),
	}
}

// FetchPage returns one page of transfers for address in dir.
// A nil cursor requests the first page; a nil next cursor means the
// direction is exhausted. An empty page is not an error.
func (f *Fetcher) FetchPage(
	ctx context.Context,
	address string,
	dir domain.Direction,
	cursor *string,
) ([]domain.TransferRecord, *string, error) {
	page, err := f.lister.ListTransfers(ctx, chain.TransferQuery{
		Address:          address,
		Direction:        dir,
		Categories:       f.opts.Categories,
		Order:            f.opts.Order,
		ExcludeZeroValue: f.opts.ExcludeZeroValue,
		PageSize:         f.opts.PageSize,
		PageKey:          cursor,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s transfers: %w", dir, err)
	}

	records := page.Transfers
	for i := range records {
		records[i].Direction = dir
	}

	metrics.PagesFetched.WithLabelValues(string(dir)).Inc()
	metrics.RecordsFetched.WithLabelValues(string(dir)).Add(float64(len(records)))
	f.log.Debug("Fetched page",
		"address", address,
		"direction", dir,
		"records", len(records),
		"has_more", page.PageKey != nil,
	)
	return records, page.PageKey, nil
}
