package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/export"
)

func TestWriter_Export(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "csv")
	w := NewWriter(dir)

	batch := domain.Batch{
		Address: "0xabc",
		Index:   3,
		Records: []domain.EnrichedTransaction{
			{
				TransferRecord: domain.TransferRecord{
					Hash:            "0x01",
					From:            "0xaaa",
					To:              "0xbbb",
					Category:        domain.CategoryERC721,
					Asset:           "PUNK",
					ContractAddress: "0xccc",
					TokenID:         "0x2a",
					BlockTimestamp:  "2023-01-01T00:00:00.000Z",
				},
				GasFeeEth: "0.000021",
			},
			{
				TransferRecord: domain.TransferRecord{Hash: "0x02", Category: domain.CategoryExternal, Value: "1.5"},
				GasFeeEth:      domain.FeeSentinel,
			},
		},
	}

	if err := w.Export(context.Background(), batch); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "address_0xabc_batch_3.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	header := strings.SplitN(string(data), "\n", 2)[0]
	want := "transactionHash,from,to,tx_type,asset_address,asset_symbol,nft_tokenId,value,gasFeeEth,timestamp"
	if header != want {
		t.Errorf("header = %q\nwant     %q", header, want)
	}

	var rows []Row
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].NFTTokenID != "0x2a" || rows[0].AssetAddress != "0xccc" || rows[0].TxType != "erc721" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].GasFeeEth != "0" {
		t.Errorf("sentinel fee = %q", rows[1].GasFeeEth)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the batch file, got %d entries", len(entries))
	}
}

func TestWriter_ExportIOError(t *testing.T) {
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "csv")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := NewWriter(blocker).Export(context.Background(), domain.Batch{Address: "0xabc", Index: 1})
	if !errors.Is(err, export.ErrExportIO) {
		t.Fatalf("expected ErrExportIO, got %v", err)
	}
}

func TestWriter_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWriter(dir).Export(ctx, domain.Batch{Address: "0xabc", Index: 1})
	if !errors.Is(err, export.ErrExportIO) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrExportIO wrapping context.Canceled, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("expected no files, got %d", len(entries))
	}
}
