package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assad-lz/ansetl/internal/enrich"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/store"
)

var builtAt = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

func operators() []record.OperatorRecord {
	return []record.OperatorRecord{
		{RegistryID: "1", TaxID: "12345678000199", LegalName: "Acme Saude", Region: "SP"},
		{RegistryID: "2", TaxID: "22222222000122", LegalName: "Beta Saude", Region: "RJ"},
		{RegistryID: "3", TaxID: "33333333000133", LegalName: "Gama Planos", Region: "SP"},
	}
}

func expense(reg string, year, quarter int, amount int64) record.ExpenseRecord {
	return record.ExpenseRecord{
		RegistryID:  reg,
		Period:      record.Period{Year: year, Quarter: record.Quarter(quarter)},
		Amount:      decimal.NewFromInt(amount),
		Description: fmt.Sprintf("EVENTOS %d-%d", year, quarter),
	}
}

func build(t *testing.T) *Snapshot {
	t.Helper()
	ops := operators()
	joined, _ := enrich.LeftJoin([]record.ExpenseRecord{
		expense("1", 2024, 4, 10),
		expense("1", 0, 0, 5),
		expense("1", 2025, 1, 20),
		expense("2", 2025, 1, 100),
		expense("3", 2025, 2, 1),
		expense("9", 2025, 1, 1000),
	}, enrich.NewIndex(ops))
	return Build("run-1", builtAt, ops, joined)
}

func TestOperatorsPagination(t *testing.T) {
	s := build(t)

	p, err := s.Operators(1, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 2, p.TotalPages)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "1", p.Items[0].RegistryID)

	p, err = s.Operators(2, 2, "")
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "3", p.Items[0].RegistryID)

	p, err = s.Operators(5, 2, "")
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.NotNil(t, p.Items)
}

func TestOperatorsNameFilter(t *testing.T) {
	s := build(t)

	p, err := s.Operators(1, 10, "saude")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)

	p, err = s.Operators(1, 10, "nobody")
	require.NoError(t, err)
	assert.Zero(t, p.Total)
	assert.Zero(t, p.TotalPages)
}

func TestOperatorsHugePageIsEmpty(t *testing.T) {
	s := build(t)

	p, err := s.Operators(math.MaxInt/10, MaxPageSize, "")
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.TotalPages)

	p, err = s.Operators(math.MaxInt, 1, "")
	require.NoError(t, err)
	assert.Empty(t, p.Items)
}

func TestOperatorsInvalidPage(t *testing.T) {
	s := build(t)
	for _, tc := range []struct{ page, size int }{{0, 10}, {1, 0}, {1, MaxPageSize + 1}} {
		_, err := s.Operators(tc.page, tc.size, "")
		assert.ErrorIs(t, err, ErrInvalidPage, "page=%d size=%d", tc.page, tc.size)
	}
}

func TestOperatorLookup(t *testing.T) {
	s := build(t)

	op, err := s.Operator("2")
	require.NoError(t, err)
	assert.Equal(t, "Beta Saude", op.LegalName)

	op, err = s.Operator("12.345.678/0001-99")
	require.NoError(t, err)
	assert.Equal(t, "1", op.RegistryID)

	op, err = s.Operator("3.0")
	require.NoError(t, err)
	assert.Equal(t, "Gama Planos", op.LegalName)

	_, err = s.Operator("00000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpensesNewestFirstUnknownLast(t *testing.T) {
	s := build(t)

	got, err := s.Expenses("1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, record.Period{Year: 2025, Quarter: 1}, got[0].Period)
	assert.Equal(t, record.Period{Year: 2024, Quarter: 4}, got[1].Period)
	assert.False(t, got[2].Period.Known())
}

func TestExpensesLookupByTaxIDAndUnmatched(t *testing.T) {
	s := build(t)

	got, err := s.Expenses("22222222000122")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Beta Saude", got[0].LegalName)

	got, err = s.Expenses("9")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, record.LegalNameUnavailable, got[0].LegalName)

	_, err = s.Expenses("404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpensesBlankKeyNeverMatches(t *testing.T) {
	ops := operators()
	joined, _ := enrich.LeftJoin([]record.ExpenseRecord{
		expense("", 2025, 1, 7),
		expense("1", 2025, 1, 10),
	}, enrich.NewIndex(ops))
	s := Build("run-1", builtAt, ops, joined)

	for _, key := range []string{"", "   ", ".0", "-"} {
		_, err := s.Expenses(key)
		assert.ErrorIs(t, err, ErrNotFound, "key %q", key)
	}

	list, err := s.Expenses("1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExpensesOperatorWithoutExpenses(t *testing.T) {
	ops := operators()
	s := Build("run-1", builtAt, ops, nil)

	got, err := s.Expenses("2")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStatisticsExcludeUnmatched(t *testing.T) {
	s := build(t)

	st, err := s.Statistics(5)
	require.NoError(t, err)

	// The unmatched 1000 is in the consolidated view only.
	assert.True(t, st.TotalAmount.Equal(decimal.NewFromInt(136)), "total %s", st.TotalAmount)
	assert.Equal(t, 5, st.Count)

	require.Len(t, st.TopOperators, 3)
	assert.Equal(t, "Beta Saude", st.TopOperators[0].Value(record.FieldLegalName))
	assert.Equal(t, "Acme Saude", st.TopOperators[1].Value(record.FieldLegalName))

	require.Len(t, st.TopRegions, 2)
	assert.Equal(t, "RJ", st.TopRegions[0].Value(record.FieldRegion))
	assert.True(t, st.TopRegions[1].TotalAmount.Equal(decimal.NewFromInt(36)))

	st, err = s.Statistics(1)
	require.NoError(t, err)
	assert.Len(t, st.TopOperators, 1)
	assert.Len(t, st.TopRegions, 1)
}

func TestUnavailableIsDistinctFromNotFound(t *testing.T) {
	for name, s := range map[string]*Snapshot{
		"nil":   nil,
		"empty": Build("run-0", builtAt, nil, nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Operators(1, 10, "")
			assert.ErrorIs(t, err, ErrUnavailable)
			_, err = s.Operator("1")
			assert.ErrorIs(t, err, ErrUnavailable)
			_, err = s.Expenses("1")
			assert.ErrorIs(t, err, ErrUnavailable)
			_, err = s.Statistics(5)
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.False(t, errors.Is(ErrUnavailable, ErrNotFound))
		})
	}
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "ansetl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = Load(ctx, st)
	require.ErrorIs(t, err, ErrUnavailable)

	ops := operators()
	joined, _ := enrich.LeftJoin([]record.ExpenseRecord{expense("1", 2025, 1, 50)}, enrich.NewIndex(ops))
	run := store.Run{ID: "run-7", StartedAt: builtAt, FinishedAt: builtAt.Add(time.Minute)}
	require.NoError(t, st.ReplaceRun(ctx, run, ops, joined))

	s, err := Load(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, "run-7", s.RunID)
	assert.Equal(t, 3, s.OperatorCount())
	assert.Equal(t, 1, s.ExpenseCount())

	got, err := s.Expenses("1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme Saude", got[0].LegalName)
}
