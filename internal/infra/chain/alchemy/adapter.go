// Package alchemy reads transfer history and receipts from an
// Alchemy-compatible JSON-RPC endpoint.
package alchemy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/txexport/internal/core/backoff"
	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/infra/chain"
	"github.com/vietddude/txexport/internal/infra/rpc/routing"
)

const (
	methodAssetTransfers = "alchemy_getAssetTransfers"
	methodReceipt        = "eth_getTransactionReceipt"
)

// MaxPageSize is the largest maxCount the transfers API accepts.
const MaxPageSize = 1000

// Adapter implements chain.Adapter on top of a JSON-RPC caller.
type Adapter struct {
	client routing.Caller
	retry  backoff.Exponential
	log    *slog.Logger
}

var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter. Transfer listing is retried with retry;
// receipt lookups are single attempts since callers own that policy.
func NewAdapter(client routing.Caller, retry backoff.Exponential) *Adapter {
	return &Adapter{
		client: client,
		retry:  retry,
		log:    slog.Default().With("component", "alchemy"),
	}
}

type assetTransfer struct {
	BlockNum      string      `json:"blockNum"`
	UniqueID      string      `json:"uniqueId"`
	Hash          string      `json:"hash"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Value         json.Number `json:"value"`
	ERC721TokenID *string     `json:"erc721TokenId"`
	TokenID       *string     `json:"tokenId"`
	Asset         *string     `json:"asset"`
	Category      string      `json:"category"`
	RawContract   struct {
		Address *string `json:"address"`
	} `json:"rawContract"`
	Metadata struct {
		BlockTimestamp string `json:"blockTimestamp"`
	} `json:"metadata"`
}

type assetTransfersResult struct {
	Transfers []assetTransfer `json:"transfers"`
	PageKey   *string         `json:"pageKey"`
}

// ListTransfers fetches one page via alchemy_getAssetTransfers.
func (a *Adapter) ListTransfers(ctx context.Context, q chain.TransferQuery) (*chain.TransferPage, error) {
	params, err := buildTransferParams(q)
	if err != nil {
		return nil, err
	}

	raw, err := routing.CallWithRetry(ctx, a.client, methodAssetTransfers, []any{params}, a.retry)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", methodAssetTransfers, err)
	}

	var res assetTransfersResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("invalid %s response: %w", methodAssetTransfers, err)
	}

	page := &chain.TransferPage{
		Transfers: make([]domain.TransferRecord, 0, len(res.Transfers)),
	}
	if res.PageKey != nil && *res.PageKey != "" {
		page.PageKey = res.PageKey
	}
	for _, t := range res.Transfers {
		page.Transfers = append(page.Transfers, t.toRecord(q.Direction))
	}

	a.log.Debug("Fetched transfer page",
		"direction", q.Direction,
		"count", len(page.Transfers),
		"has_more", page.PageKey != nil,
	)
	return page, nil
}

func buildTransferParams(q chain.TransferQuery) (map[string]any, error) {
	if q.Address == "" {
		return nil, fmt.Errorf("transfer query without address")
	}

	categories := q.Categories
	if len(categories) == 0 {
		categories = domain.DefaultCategories
	}
	order := q.Order
	if order == "" {
		order = domain.SortAscending
	}

	params := map[string]any{
		"fromBlock":        "0x0",
		"category":         categories,
		"withMetadata":     true,
		"excludeZeroValue": q.ExcludeZeroValue,
		"order":            string(order),
	}
	switch q.Direction {
	case domain.DirectionIncoming:
		params["toAddress"] = q.Address
	case domain.DirectionOutgoing:
		params["fromAddress"] = q.Address
	default:
		return nil, fmt.Errorf("unknown direction %q", q.Direction)
	}
	if q.PageSize > 0 {
		size := q.PageSize
		if size > MaxPageSize {
			size = MaxPageSize
		}
		params["maxCount"] = hexutil.EncodeUint64(uint64(size))
	}
	if q.PageKey != nil && *q.PageKey != "" {
		params["pageKey"] = *q.PageKey
	}
	return params, nil
}

func (t assetTransfer) toRecord(dir domain.Direction) domain.TransferRecord {
	rec := domain.TransferRecord{
		UniqueID:       t.UniqueID,
		Hash:           t.Hash,
		From:           strings.ToLower(t.From),
		To:             strings.ToLower(t.To),
		Category:       domain.Category(t.Category),
		Value:          t.Value.String(),
		BlockTimestamp: t.Metadata.BlockTimestamp,
		Direction:      dir,
	}
	if rec.UniqueID == "" {
		rec.UniqueID = t.Hash + ":" + t.Category
	}
	if t.Asset != nil {
		rec.Asset = *t.Asset
	}
	if t.RawContract.Address != nil {
		rec.ContractAddress = strings.ToLower(*t.RawContract.Address)
	}
	switch {
	case t.ERC721TokenID != nil:
		rec.TokenID = *t.ERC721TokenID
	case t.TokenID != nil:
		rec.TokenID = *t.TokenID
	}
	if n, err := hexutil.DecodeUint64(t.BlockNum); err == nil {
		rec.BlockNumber = n
	}
	return rec
}

type receipt struct {
	GasUsed           *hexutil.Big `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big `json:"effectiveGasPrice"`
}

// GetFee fetches the receipt of hash and returns its fee fields.
// Missing fields are left nil so the caller can fall back.
func (a *Adapter) GetFee(ctx context.Context, hash string) (*domain.FeeData, error) {
	raw, err := a.client.Call(ctx, methodReceipt, []any{hash})
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", methodReceipt, hash, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var r receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("invalid receipt for %s: %w", hash, err)
	}
	return &domain.FeeData{
		GasUsed:           toBig(r.GasUsed),
		EffectiveGasPrice: toBig(r.EffectiveGasPrice),
	}, nil
}

func toBig(h *hexutil.Big) *big.Int {
	if h == nil {
		return nil
	}
	return h.ToInt()
}
