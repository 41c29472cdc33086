package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/assad-lz/ansetl/internal/record"
)

// Run describes one stored pipeline run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    json.RawMessage
}

// ReplaceRun swaps the stored operators and expenses for a new run's and
// records the run, all in one transaction. A failure leaves the previous run
// intact.
func (s *Store) ReplaceRun(ctx context.Context, run Run, ops []record.OperatorRecord, expenses []record.ExpenseRecord) error {
	if run.ID == "" {
		return fmt.Errorf("replace run: empty run id")
	}
	summary := run.Summary
	if len(summary) == 0 {
		summary = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, table := range []string{"expenses", "operators"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("replace run: truncate %s: %w", table, err)
		}
	}

	if err := insertOperators(ctx, tx, ops); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}
	if err := insertExpenses(ctx, tx, expenses); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, summary)
		VALUES (?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(summary),
	)
	if err != nil {
		return fmt.Errorf("replace run: insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace run: commit: %w", err)
	}
	return nil
}

func insertOperators(ctx context.Context, tx *sql.Tx, ops []record.OperatorRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO operators (seq, registry_id, tax_id, legal_name, region, modality)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare operators: %w", err)
	}
	defer stmt.Close()

	for i, op := range ops {
		if _, err := stmt.ExecContext(ctx, i+1, op.RegistryID, op.TaxID, op.LegalName, op.Region, op.Modality); err != nil {
			return fmt.Errorf("insert operator %s: %w", op.RegistryID, err)
		}
	}
	return nil
}

func insertExpenses(ctx context.Context, tx *sql.Tx, expenses []record.ExpenseRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO expenses
		(seq, registry_id, year, quarter, amount, description, tax_id, legal_name, region, matched, tax_id_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare expenses: %w", err)
	}
	defer stmt.Close()

	for i, e := range expenses {
		year := sql.NullInt64{Int64: int64(e.Period.Year), Valid: e.Period.Known()}
		_, err := stmt.ExecContext(ctx,
			i+1,
			e.RegistryID,
			year,
			int(e.Period.Quarter),
			e.Amount.String(),
			e.Description,
			e.TaxID,
			e.LegalName,
			e.Region,
			e.Matched,
			e.TaxIDValid,
		)
		if err != nil {
			return fmt.Errorf("insert expense %d: %w", i+1, err)
		}
	}
	return nil
}
