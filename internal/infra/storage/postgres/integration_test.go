//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/txexport/internal/core/domain"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "txexport",
			"POSTGRES_PASSWORD": "txexport",
			"POSTGRES_DB":       "txexport_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Postgres endpoint: %v", err)
	}

	db, err := NewDB(ctx, Config{
		URL: fmt.Sprintf("postgres://txexport:txexport@%s/txexport_test?sslmode=disable", endpoint),
	})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func enriched(hash string, dir domain.Direction) domain.EnrichedTransaction {
	return domain.Enrich(domain.TransferRecord{
		UniqueID:  hash + ":external",
		Hash:      hash,
		From:      "0xaaa",
		To:        "0xbbb",
		Category:  domain.CategoryExternal,
		Asset:     "ETH",
		Value:     "1.5",
		Direction: dir,
	}, nil)
}

func TestExportRepo_Integration(t *testing.T) {
	db := setupTestDB(t)
	repo := NewExportRepo(db)
	ctx := context.Background()

	runID, err := repo.StartRun(ctx, "0xabc")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	batch := domain.Batch{
		RunID:   runID,
		Address: "0xabc",
		Index:   1,
		Records: []domain.EnrichedTransaction{
			enriched("0x01", domain.DirectionIncoming),
			enriched("0x02", domain.DirectionOutgoing),
		},
	}
	if err := repo.Export(ctx, batch); err != nil {
		t.Fatalf("Export: %v", err)
	}
	// Retried flush of the same batch must not duplicate rows.
	if err := repo.Export(ctx, batch); err != nil {
		t.Fatalf("Export retry: %v", err)
	}

	n, err := repo.CountTransactions(ctx, runID)
	if err != nil {
		t.Fatalf("CountTransactions: %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d transactions, want 2", n)
	}

	if err := repo.FinishRun(ctx, runID, errors.New("stalled")); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := repo.ListRuns(ctx, "0xabc", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != RunStatusFailed || run.Records != 2 || run.Batches != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
	if !run.Error.Valid || run.Error.String != "stalled" {
		t.Errorf("run error = %+v", run.Error)
	}
}

func TestExportRepo_MissingRunID(t *testing.T) {
	db := setupTestDB(t)
	err := NewExportRepo(db).Export(context.Background(), domain.Batch{Index: 1})
	if err == nil {
		t.Fatal("expected error for batch without run id")
	}
}
