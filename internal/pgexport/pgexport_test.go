package pgexport

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assad-lz/ansetl/internal/record"
)

// fakeTx records statements and copied rows. Methods Replace does not call
// panic through the embedded nil interface.
type fakeTx struct {
	pgx.Tx
	execs      []string
	copied     map[string][][]any
	copyErr    error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) CopyFrom(_ context.Context, table pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	var rows [][]any
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	f.copied[table.Sanitize()] = rows
	return int64(len(rows)), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct{ tx *fakeTx }

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return d.tx, nil
}

func newFake() *fakeDB {
	return &fakeDB{tx: &fakeTx{copied: map[string][][]any{}}}
}

func TestReplaceCopiesOnlyRegisteredExpenses(t *testing.T) {
	db := newFake()
	ops := []record.OperatorRecord{
		{RegistryID: "1", TaxID: "12345678000199", LegalName: "Acme", Region: "SP"},
		{RegistryID: "1", LegalName: "Acme again"},
	}
	expenses := []record.ExpenseRecord{
		{RegistryID: "1", Period: record.Period{Year: 2025, Quarter: 2}, Amount: decimal.RequireFromString("12.34"), Description: "EVENTOS"},
		{RegistryID: "7", Period: record.Period{Year: 2025, Quarter: 2}, Amount: decimal.NewFromInt(1), Description: "EVENTOS"},
	}

	rep, err := New(db, nil).Replace(context.Background(), ops, expenses)
	require.NoError(t, err)

	assert.Equal(t, Report{Operators: 1, Expenses: 1, Skipped: 1}, rep)
	assert.True(t, db.tx.committed)
	require.Len(t, db.tx.execs, 2)
	assert.Contains(t, db.tx.execs[1], "TRUNCATE TABLE despesas, operadoras")

	row := db.tx.copied[`"despesas"`][0]
	assert.Equal(t, "1", row[0])
	assert.Equal(t, pgtype.Int4{Int32: 2025, Valid: true}, row[1])
	num := row[3].(pgtype.Numeric)
	assert.Equal(t, int64(1234), num.Int.Int64())
	assert.Equal(t, int32(-2), num.Exp)
}

func TestReplaceUnknownPeriodIsNull(t *testing.T) {
	db := newFake()
	ops := []record.OperatorRecord{{RegistryID: "1"}}
	expenses := []record.ExpenseRecord{{RegistryID: "1", Amount: decimal.NewFromInt(5), Description: "EVENTOS"}}

	_, err := New(db, nil).Replace(context.Background(), ops, expenses)
	require.NoError(t, err)

	row := db.tx.copied[`"despesas"`][0]
	assert.False(t, row[1].(pgtype.Int4).Valid)
	assert.False(t, row[2].(pgtype.Int4).Valid)
}

func TestReplaceRollsBackOnCopyFailure(t *testing.T) {
	db := newFake()
	db.tx.copyErr = errors.New("connection reset")

	_, err := New(db, nil).Replace(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy operators")
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}
