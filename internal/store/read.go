package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/assad-lz/ansetl/internal/record"
)

// LatestRun returns the most recently stored run, or ErrNoRun.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var (
		run               Run
		started, finished string
		summary           string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, summary
		FROM runs
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&run.ID, &started, &finished, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRun
	}
	if err != nil {
		return Run{}, fmt.Errorf("query latest run: %w", err)
	}

	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	run.Summary = []byte(summary)
	return run, nil
}

// CountRuns returns how many runs have been stored.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// Operators returns the stored registry in file order.
func (s *Store) Operators(ctx context.Context) ([]record.OperatorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT registry_id, tax_id, legal_name, region, modality
		FROM operators
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query operators: %w", err)
	}
	defer rows.Close()

	ops := []record.OperatorRecord{}
	for rows.Next() {
		var op record.OperatorRecord
		if err := rows.Scan(&op.RegistryID, &op.TaxID, &op.LegalName, &op.Region, &op.Modality); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operators: %w", err)
	}
	return ops, nil
}

// Expenses returns the stored consolidated expenses in consolidation order.
func (s *Store) Expenses(ctx context.Context) ([]record.ExpenseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT registry_id, year, quarter, amount, description, tax_id, legal_name, region, matched, tax_id_valid
		FROM expenses
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	expenses := []record.ExpenseRecord{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

func scanExpense(rows *sql.Rows) (record.ExpenseRecord, error) {
	var (
		e       record.ExpenseRecord
		year    sql.NullInt64
		quarter int
		amount  string
	)
	err := rows.Scan(&e.RegistryID, &year, &quarter, &amount, &e.Description,
		&e.TaxID, &e.LegalName, &e.Region, &e.Matched, &e.TaxIDValid)
	if err != nil {
		return record.ExpenseRecord{}, fmt.Errorf("scan expense: %w", err)
	}

	if year.Valid {
		e.Period = record.Period{Year: int(year.Int64), Quarter: record.Quarter(quarter)}
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return record.ExpenseRecord{}, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	return e, nil
}
