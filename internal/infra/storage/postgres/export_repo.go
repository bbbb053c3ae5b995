package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/exporting/export"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one persisted export run.
type Run struct {
	ID         string         `db:"id"`
	Address    string         `db:"address"`
	Status     string         `db:"status"`
	Batches    int            `db:"batches"`
	Records    int            `db:"records"`
	Error      sql.NullString `db:"error"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
}

// ExportRepo persists exported batches. It satisfies export.Exporter.
type ExportRepo struct {
	db *DB
}

// NewExportRepo creates a new PostgreSQL export repository.
func NewExportRepo(db *DB) *ExportRepo {
	return &ExportRepo{db: db}
}

// StartRun registers a new run for address and returns its id.
func (r *ExportRepo) StartRun(ctx context.Context, address string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO export_runs (id, address, status) VALUES ($1, $2, $3)`,
		id, address, RunStatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun marks the run completed, or failed when runErr is non-nil.
func (r *ExportRepo) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := RunStatusCompleted
	var msg sql.NullString
	if runErr != nil {
		status = RunStatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE export_runs SET status = $2, error = $3, finished_at = NOW() WHERE id = $1`,
		runID, status, msg,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// Export writes the batch and its transactions in one transaction.
// Re-exporting a record already stored for the run is a no-op.
func (r *ExportRepo) Export(ctx context.Context, batch domain.Batch) error {
	if batch.RunID == "" {
		return fmt.Errorf("%w: batch %d has no run id", export.ErrExportIO, batch.Index)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", export.ErrExportIO, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO exported_transactions (
			run_id, unique_id, batch_index, tx_hash, direction, from_address, to_address,
			category, asset, value, contract_address, token_id, block_number,
			block_timestamp, gas_fee_eth, fee_fallback
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (run_id, unique_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", export.ErrExportIO, err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range batch.Records {
		res, err := stmt.ExecContext(ctx,
			batch.RunID, uniqueID(t), batch.Index, t.Hash, string(t.Direction), t.From, t.To,
			string(t.Category), t.Asset, t.Value, t.ContractAddress, t.TokenID,
			int64(t.BlockNumber), t.BlockTimestamp, t.GasFeeEth, t.FeeFallback,
		)
		if err != nil {
			return fmt.Errorf("%w: insert %s: %v", export.ErrExportIO, t.Hash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO export_batches (run_id, batch_index, records) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, batch_index) DO UPDATE SET records = EXCLUDED.records, exported_at = NOW()
	`, batch.RunID, batch.Index, len(batch.Records))
	if err != nil {
		return fmt.Errorf("%w: batch row: %v", export.ErrExportIO, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE export_runs SET batches = GREATEST(batches, $2), records = records + $3 WHERE id = $1
	`, batch.RunID, batch.Index, inserted)
	if err != nil {
		return fmt.Errorf("%w: run totals: %v", export.ErrExportIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", export.ErrExportIO, err)
	}
	return nil
}

// ListRuns returns the most recent runs, optionally filtered by address.
func (r *ExportRepo) ListRuns(ctx context.Context, address string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	query := `
		SELECT id, address, status, batches, records, error, started_at, finished_at
		FROM export_runs
		WHERE ($1 = '' OR address = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &runs, query, address, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// CountTransactions returns the number of stored records for a run.
func (r *ExportRepo) CountTransactions(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM exported_transactions WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func uniqueID(t domain.EnrichedTransaction) string {
	if t.UniqueID != "" {
		return t.UniqueID
	}
	return t.Hash + ":" + string(t.Category)
}
