// Package pgexport mirrors a pipeline run into PostgreSQL tables for
// external SQL consumers.
package pgexport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assad-lz/ansetl/internal/record"
)

const ddl = `
CREATE TABLE IF NOT EXISTS operadoras (
    registro_ans TEXT PRIMARY KEY,
    cnpj         TEXT NOT NULL,
    razao_social TEXT NOT NULL,
    modalidade   TEXT NOT NULL,
    uf           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS despesas (
    id            BIGSERIAL PRIMARY KEY,
    registro_ans  TEXT NOT NULL REFERENCES operadoras (registro_ans),
    ano           INTEGER,
    trimestre     INTEGER,
    valor_despesa NUMERIC NOT NULL,
    descricao     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_despesas_registro ON despesas (registro_ans);
`

var (
	operatorColumns = []string{"registro_ans", "cnpj", "razao_social", "modalidade", "uf"}
	expenseColumns  = []string{"registro_ans", "ano", "trimestre", "valor_despesa", "descricao"}
)

// Beginner is satisfied by *pgx.Conn and *pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Report counts what an export wrote.
type Report struct {
	Operators int `json:"operators"`
	Expenses  int `json:"expenses"`
	// Skipped counts expenses whose registry id is not in the registry.
	Skipped int `json:"skipped"`
}

// Exporter reloads the Postgres mirror.
type Exporter struct {
	db     Beginner
	logger *slog.Logger
}

// New returns an exporter writing through db.
func New(db Beginner, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{db: db, logger: logger}
}

// Connect opens a connection pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Replace truncates both tables and bulk-loads ops and the expenses that
// reference a registered operator, in one transaction.
func (x *Exporter) Replace(ctx context.Context, ops []record.OperatorRecord, expenses []record.ExpenseRecord) (Report, error) {
	tx, err := x.db.Begin(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("export: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return Report{}, fmt.Errorf("export: create tables: %w", err)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE despesas, operadoras"); err != nil {
		return Report{}, fmt.Errorf("export: truncate: %w", err)
	}

	known := make(map[string]struct{}, len(ops))
	opRows := make([][]any, 0, len(ops))
	for _, op := range ops {
		if _, dup := known[op.RegistryID]; dup {
			continue
		}
		known[op.RegistryID] = struct{}{}
		opRows = append(opRows, []any{op.RegistryID, op.TaxID, op.LegalName, op.Modality, op.Region})
	}

	var rep Report
	expRows := make([][]any, 0, len(expenses))
	for _, e := range expenses {
		if _, ok := known[e.RegistryID]; !ok {
			rep.Skipped++
			continue
		}
		expRows = append(expRows, []any{
			e.RegistryID,
			pgtype.Int4{Int32: int32(e.Period.Year), Valid: e.Period.Known()},
			pgtype.Int4{Int32: int32(e.Period.Quarter), Valid: e.Period.Known()},
			pgtype.Numeric{Int: e.Amount.Coefficient(), Exp: e.Amount.Exponent(), Valid: true},
			e.Description,
		})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"operadoras"}, operatorColumns, pgx.CopyFromRows(opRows))
	if err != nil {
		return Report{}, fmt.Errorf("export: copy operators: %w", err)
	}
	rep.Operators = int(n)

	n, err = tx.CopyFrom(ctx, pgx.Identifier{"despesas"}, expenseColumns, pgx.CopyFromRows(expRows))
	if err != nil {
		return Report{}, fmt.Errorf("export: copy expenses: %w", err)
	}
	rep.Expenses = int(n)

	if err := tx.Commit(ctx); err != nil {
		return Report{}, fmt.Errorf("export: commit: %w", err)
	}

	x.logger.Info("postgres export complete",
		"operators", rep.Operators,
		"expenses", rep.Expenses,
		"skipped", rep.Skipped,
	)
	return rep, nil
}
