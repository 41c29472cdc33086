package harness

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assad-lz/ansetl/internal/consolidate"
	"github.com/assad-lz/ansetl/internal/pipeline"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/store"
)

func intPtr(n int) *int { return &n }

func sampleRun() *pipeline.Result {
	return &pipeline.Result{
		Consolidated: []record.ExpenseRecord{{RegistryID: "R1"}, {RegistryID: "R2"}},
		GroupBy:      record.ByRegion,
		Aggregates: []record.AggregateRow{{
			Group:       record.ByRegion,
			GroupKey:    []string{"SP"},
			TotalAmount: decimal.RequireFromString("150.5"),
			MeanAmount:  decimal.RequireFromString("75.25"),
			Count:       2,
		}},
		Summary: pipeline.Summary{
			Files: []pipeline.FileOutcome{
				{Path: "cadop.csv", Role: pipeline.RoleRegistry, Status: pipeline.StatusOK},
				{Path: "1T2025.csv", Role: pipeline.RoleLedger, Status: pipeline.StatusOK, Kept: 2},
				{Path: "bad.csv", Role: pipeline.RoleLedger, Status: pipeline.StatusSkipped, ErrorKind: pipeline.KindSchema},
			},
			Consolidation: consolidate.Report{Input: 3, Duplicates: 1, Output: 2},
		},
	}
}

func TestAssertSummary(t *testing.T) {
	run := sampleRun()

	assert.NoError(t, assertSummary(run.Summary, Assertion{Path: "consolidation.duplicates", Equals: 1}))
	assert.NoError(t, assertSummary(run.Summary, Assertion{Path: "files.1.kept", Equals: 2}))
	assert.NoError(t, assertSummary(run.Summary, Assertion{Path: "files.2.error_kind", Equals: "schema"}))

	err := assertSummary(run.Summary, Assertion{Path: "consolidation.output", Equals: 5})
	require.Error(t, err)
	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, AssertSummary, assertErr.Type)
	assert.Contains(t, assertErr.Actual, "consolidation.output = 2")

	err = assertSummary(run.Summary, Assertion{Path: "files.9.kept", Equals: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present")
}

func TestLookupPath(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{"b": []interface{}{"x", "y"}},
	}
	v, ok := lookupPath(doc, "a.b.1")
	require.True(t, ok)
	assert.Equal(t, "y", v)

	_, ok = lookupPath(doc, "a.b.two")
	assert.False(t, ok)
	_, ok = lookupPath(doc, "a.c")
	assert.False(t, ok)
	_, ok = lookupPath(doc, "a.b.1.z")
	assert.False(t, ok)
}

func TestAssertFileStatus(t *testing.T) {
	summary := sampleRun().Summary

	assert.NoError(t, assertFileStatus(summary, Assertion{File: "1T2025.csv", Status: "ok"}))
	assert.NoError(t, assertFileStatus(summary, Assertion{File: "bad.csv", Status: "skipped", ErrorKind: "schema"}))
	assert.Error(t, assertFileStatus(summary, Assertion{File: "bad.csv", Status: "skipped", ErrorKind: "encoding"}))
	assert.Error(t, assertFileStatus(summary, Assertion{File: "1T2025.csv", Status: "skipped"}))

	err := assertFileStatus(summary, Assertion{File: "other.csv", Status: "ok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not in summary")
}

func TestAssertConsolidatedCount(t *testing.T) {
	run := sampleRun()
	assert.NoError(t, assertConsolidatedCount(run, Assertion{Count: intPtr(2)}))
	assert.Error(t, assertConsolidatedCount(run, Assertion{Count: intPtr(3)}))
}

func TestAssertAggregate(t *testing.T) {
	run := sampleRun()

	assert.NoError(t, assertAggregate(run, Assertion{Key: []string{"SP"}, Total: "150.50", Mean: "75.25", Count: intPtr(2)}))
	assert.NoError(t, assertAggregate(run, Assertion{Key: []string{"SP"}}))

	err := assertAggregate(run, Assertion{Key: []string{"SP"}, Total: "150.00", Count: intPtr(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total 150.50")
	assert.Contains(t, err.Error(), "count 2")

	err = assertAggregate(run, Assertion{Key: []string{"RJ"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such group")
}

func TestLooselyEqual(t *testing.T) {
	assert.True(t, looselyEqual(1, float64(1)))
	assert.True(t, looselyEqual(1, int64(1)))
	assert.True(t, looselyEqual(true, int64(1)))
	assert.True(t, looselyEqual(false, int64(0)))
	assert.True(t, looselyEqual(true, true))
	assert.True(t, looselyEqual("a", []byte("a")))
	assert.True(t, looselyEqual(nil, nil))

	assert.False(t, looselyEqual("1", int64(1)))
	assert.False(t, looselyEqual(1, "1"))
	assert.False(t, looselyEqual(nil, int64(0)))
	assert.False(t, looselyEqual("value", nil))
	assert.False(t, looselyEqual(true, "true"))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertFileStatus,
		Expected: "bad.csv ok",
		Actual:   "bad.csv skipped schema",
		Files:    sampleRun().Summary.Files,
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: file_status")
	assert.Contains(t, msg, "Expected: bad.csv ok")
	assert.Contains(t, msg, "Actual: bad.csv skipped schema")
	assert.Contains(t, msg, "[3] bad.csv ledger skipped (schema)")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Empty(t, args)

	sql, args, err = buildWhereClause(map[string]interface{}{"year": nil, "registry_id": "R1", "matched": true})
	require.NoError(t, err)
	assert.Equal(t, "matched = ? AND registry_id = ? AND year IS NULL", sql)
	assert.Equal(t, []interface{}{1, "R1"}, args)
}

func TestBuildWhereClause_NoInterpolation(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]interface{}{"registry_id": "'; DROP TABLE expenses; --"})
	require.NoError(t, err)
	assert.Equal(t, "registry_id = ?", sql)
	assert.Equal(t, []interface{}{"'; DROP TABLE expenses; --"}, args)
}

func TestBuildWhereClause_InvalidColumnName(t *testing.T) {
	_, _, err := buildWhereClause(map[string]interface{}{"id; DROP": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]interface{}{"b": "x", "a": 1}))
}

// Integration tests for assertFinalState with real database

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(`INSERT INTO operators (seq, registry_id, tax_id, legal_name, region, modality)
		VALUES (0, 'R1', '12345678000199', 'Acme', 'SP', 'Cooperativa'),
		       (1, 'R2', '98765432000100', 'Beta', 'SP', 'Autogestao')`)
	require.NoError(t, err)
	return st
}

func TestAssertFinalState_RowFound_Pass(t *testing.T) {
	st := setupTestStore(t)

	assertion := Assertion{
		Type:   AssertFinalState,
		Table:  "operators",
		Where:  map[string]interface{}{"registry_id": "R1"},
		Expect: map[string]interface{}{"legal_name": "Acme", "seq": 0},
	}
	assert.NoError(t, assertFinalState(context.Background(), st, assertion))
}

func TestAssertFinalState_Failures(t *testing.T) {
	st := setupTestStore(t)

	tests := []struct {
		name       string
		assertion  Assertion
		wantActual string
	}{
		{
			name:       "row not found",
			assertion:  Assertion{Table: "operators", Where: map[string]interface{}{"registry_id": "R9"}, Expect: map[string]interface{}{"region": "SP"}},
			wantActual: "row not found",
		},
		{
			name:       "ambiguous",
			assertion:  Assertion{Table: "operators", Where: map[string]interface{}{"region": "SP"}, Expect: map[string]interface{}{"region": "SP"}},
			wantActual: "multiple rows matched",
		},
		{
			name:       "value mismatch",
			assertion:  Assertion{Table: "operators", Where: map[string]interface{}{"registry_id": "R1"}, Expect: map[string]interface{}{"region": "RJ"}},
			wantActual: `field "region" = `,
		},
		{
			name:       "missing column",
			assertion:  Assertion{Table: "operators", Where: map[string]interface{}{"registry_id": "R1"}, Expect: map[string]interface{}{"color": "red"}},
			wantActual: "not present in result columns",
		},
		{
			name:       "table not found",
			assertion:  Assertion{Table: "nope", Expect: map[string]interface{}{"a": 1}},
			wantActual: "query error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(context.Background(), st, tt.assertion)
			require.Error(t, err)
			assertErr, ok := err.(*AssertionError)
			require.True(t, ok, "want *AssertionError, got %T", err)
			assert.Equal(t, AssertFinalState, assertErr.Type)
			assert.Contains(t, assertErr.Actual, tt.wantActual)
		})
	}
}

func TestAssertFinalState_InvalidTableName(t *testing.T) {
	st := setupTestStore(t)
	err := assertFinalState(context.Background(), st, Assertion{Table: "operators; DROP TABLE runs", Expect: map[string]interface{}{"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Run = sampleRun()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertConsolidatedCount, Count: intPtr(2)},
		{Type: AssertSummary, Path: "consolidation.input", Equals: 4},
		{Type: "trace_contains"},
		{Type: AssertFinalState, Table: "operators", Expect: map[string]interface{}{"a": 1}},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "consolidation.input")
	assert.Contains(t, errs[1], "unknown assertion type")
	assert.Contains(t, errs[2], "requires database context")
}

func TestEvaluateAssertions_NoRun(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertConsolidatedCount, Count: intPtr(0)}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "run produced no result")
}
