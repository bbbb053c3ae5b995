package chain

import (
	"context"

	"github.com/vietddude/txexport/internal/core/domain"
)

// TransferQuery selects one page of a wallet's transfers in one direction.
type TransferQuery struct {
	Address          string
	Direction        domain.Direction
	Categories       []domain.Category
	Order            domain.SortOrder
	ExcludeZeroValue bool
	// PageSize is the maximum number of transfers per page (0 = provider default)
	PageSize int
	// PageKey is the opaque continuation token; nil requests the first page
	PageKey *string
}

// TransferPage is one page of transfers plus the key of the next page.
// A nil PageKey means the listing is exhausted.
type TransferPage struct {
	Transfers []domain.TransferRecord
	PageKey   *string
}

// Adapter defines the chain-level data source of the exporter.
type Adapter interface {
	// ListTransfers returns one page of asset transfers
	ListTransfers(ctx context.Context, q TransferQuery) (*TransferPage, error)

	// GetFee fetches the receipt fee fields of a transaction.
	// A transaction without a receipt yields (nil, nil).
	GetFee(ctx context.Context, hash string) (*domain.FeeData, error)
}
