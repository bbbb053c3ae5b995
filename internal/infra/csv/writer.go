// Package csv writes flushed batches as CSV files, one file per batch.
package csv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/export"
)

// Row is the on-disk column layout of an exported transaction.
type Row struct {
	TransactionHash string `csv:"transactionHash"`
	From            string `csv:"from"`
	To              string `csv:"to"`
	TxType          string `csv:"tx_type"`
	AssetAddress    string `csv:"asset_address"`
	AssetSymbol     string `csv:"asset_symbol"`
	NFTTokenID      string `csv:"nft_tokenId"`
	Value           string `csv:"value"`
	GasFeeEth       string `csv:"gasFeeEth"`
	Timestamp       string `csv:"timestamp"`
}

// NewRow flattens an enriched transaction into a CSV row.
func NewRow(tx domain.EnrichedTransaction) Row {
	return Row{
		TransactionHash: tx.Hash,
		From:            tx.From,
		To:              tx.To,
		TxType:          string(tx.Category),
		AssetAddress:    tx.ContractAddress,
		AssetSymbol:     tx.Asset,
		NFTTokenID:      tx.TokenID,
		Value:           tx.Value,
		GasFeeEth:       tx.GasFeeEth,
		Timestamp:       tx.BlockTimestamp,
	}
}

// Writer exports batches into Dir.
type Writer struct {
	Dir string
	log *slog.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, log: slog.Default().With("component", "csv")}
}

// FileName returns the file a batch is written to.
func FileName(address string, index int) string {
	return fmt.Sprintf("address_%s_batch_%d.csv", address, index)
}

// Export writes batch to its own file. The file appears atomically.
func (w *Writer) Export(ctx context.Context, batch domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: batch %d not written: %w", export.ErrExportIO, batch.Index, err)
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: create dir %s: %v", export.ErrExportIO, w.Dir, err)
	}

	rows := make([]Row, 0, len(batch.Records))
	for _, tx := range batch.Records {
		rows = append(rows, NewRow(tx))
	}

	path := filepath.Join(w.Dir, FileName(batch.Address, batch.Index))
	tmp, err := os.CreateTemp(w.Dir, ".batch-*.csv")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", export.ErrExportIO, err)
	}
	defer os.Remove(tmp.Name())

	if err := gocsv.Marshal(&rows, tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: encode %s: %v", export.ErrExportIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", export.ErrExportIO, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", export.ErrExportIO, path, err)
	}

	w.log.Info("CSV created", "address", batch.Address, "batch", batch.Index, "records", len(rows), "file", path)
	return nil
}
