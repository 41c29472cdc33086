package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assad-lz/ansetl/internal/artifact"
	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/metrics"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/runid"
	"github.com/assad-lz/ansetl/internal/snapshot"
	"github.com/assad-lz/ansetl/internal/store"
)

var runAt = time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)

const registryCSV = "REGISTRO_OPERADORA;CNPJ;Razao_Social;Modalidade;UF\n" +
	"R1;12.345.678/0001-99;Acme;Cooperativa;SP\n" +
	"R2;98765432000100;Beta;Autogestao;RJ\n"

const ledgerCSV = "DATA;REG_ANS;CD_CONTA_CONTABIL;DESCRICAO;VL_SALDO_FINAL\n" +
	"2025-01-01;R1;41;EVENTOS X;50,00\n" +
	"2025-01-01;R1;41;EVENTOS Y;0,00\n" +
	"2025-01-01;R9;31;OUTRO;30,00\n"

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func newPipeline(cfg Config, opts ...Option) *Pipeline {
	base := []Option{WithRunIDs(runid.NewFixed("run-1")), WithClock(runid.FixedClock(runAt))}
	return New(cfg, append(base, opts...)...)
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RegistryPath: writeFile(t, dir, "Relatorio_cadop.csv", []byte(registryCSV)),
		Sources: []Source{
			{Path: writeFile(t, dir, "1T2025.csv", []byte(ledgerCSV)), Format: classify.DecimalComma},
		},
		GroupBy: record.ByRegion,
	}

	res, err := newPipeline(cfg).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Consolidated, 1)
	got := res.Consolidated[0]
	assert.Equal(t, "R1", got.RegistryID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "Acme", got.LegalName)
	assert.Equal(t, "12345678000199", got.TaxID)
	assert.True(t, got.TaxIDValid)
	assert.Equal(t, record.Period{Year: 2025, Quarter: 1}, got.Period)

	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, []string{"SP"}, res.Aggregates[0].GroupKey)
	assert.True(t, res.Aggregates[0].TotalAmount.Equal(decimal.NewFromInt(50)))

	s := res.Summary
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, runAt, s.StartedAt)
	assert.Equal(t, 2, s.Operators)
	assert.Equal(t, 2, s.Consolidation.Input)
	assert.Equal(t, 1, s.Consolidation.Zeros)
	require.Len(t, s.Files, 2)
	assert.Equal(t, RoleRegistry, s.Files[0].Role)
	ledger := s.Files[1]
	assert.Equal(t, StatusOK, ledger.Status)
	assert.Equal(t, 3, ledger.Rows)
	assert.Equal(t, 2, ledger.Kept)
	assert.Equal(t, 1, ledger.FilteredOut)
	assert.True(t, ledger.PeriodFromName)
	assert.Equal(t, "REG_ANS", ledger.Mapping["registryId"])
	assert.Empty(t, s.Skipped())
}

func TestRunUnmatchedRetainedButNotAggregated(t *testing.T) {
	dir := t.TempDir()
	ledger := "REG_ANS;DESCRICAO;VL_SALDO_FINAL\nR1;EVENTOS;10,00\nR9;SINISTRO;1.000,00\n"
	cfg := Config{
		RegistryPath: writeFile(t, dir, "cadop.csv", []byte(registryCSV)),
		Sources:      []Source{{Path: writeFile(t, dir, "2T2025.csv", []byte(ledger))}},
	}

	res, err := newPipeline(cfg).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Consolidated, 2)
	assert.Equal(t, record.LegalNameUnavailable, res.Consolidated[1].LegalName)
	assert.Equal(t, record.TaxIDUnknown, res.Consolidated[1].TaxID)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, 1, res.Summary.Join.Unmatched)

	total := decimal.Zero
	for _, a := range res.Aggregates {
		total = total.Add(a.TotalAmount)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(10)), "aggregate total %s", total)
}

func TestRunIsolatesBadFiles(t *testing.T) {
	dir := t.TempDir()
	latin1 := []byte("REG_ANS,DESCRI\xc7\xc3O,VL_SALDO_FINAL\nR2,EVENTOS conhecidos,\"1,234.50\"\n")
	cfg := Config{
		RegistryPath: writeFile(t, dir, "cadop.csv", []byte(registryCSV)),
		Sources: []Source{
			{Path: filepath.Join(dir, "missing.csv")},
			{Path: writeFile(t, dir, "noschema.csv", []byte("FOO;BAR\n1;2\n"))},
			{Path: writeFile(t, dir, "nodesc.csv", []byte("REG_ANS;VL_SALDO_FINAL\nR1;5,00\n"))},
			{Path: writeFile(t, dir, "3T2024.csv", latin1), Format: classify.DecimalPoint},
		},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	res, err := newPipeline(cfg, WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)

	skipped := res.Summary.Skipped()
	require.Len(t, skipped, 3)
	assert.Equal(t, KindIO, skipped[0].ErrorKind)
	assert.Equal(t, KindSchema, skipped[1].ErrorKind)
	assert.Equal(t, KindMissingDescription, skipped[2].ErrorKind)

	require.Len(t, res.Consolidated, 1)
	assert.True(t, res.Consolidated[0].Amount.Equal(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "Beta", res.Consolidated[0].LegalName)
	assert.Equal(t, `latin-1/','`, res.Summary.Files[4].Dialect)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Files.WithLabelValues(RoleLedger, "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Files.WithLabelValues(RoleLedger, "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ok")))
}

func TestRunNoUsableInput(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RegistryPath: writeFile(t, dir, "cadop.csv", []byte(registryCSV)),
		Sources:      []Source{{Path: filepath.Join(dir, "absent.csv")}},
	}

	res, err := newPipeline(cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrNoUsableInput)
	require.NotNil(t, res)
	assert.Len(t, res.Summary.Skipped(), 1)
}

func TestRunNothingSurvivesConsolidation(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RegistryPath: writeFile(t, dir, "cadop.csv", []byte(registryCSV)),
		Sources: []Source{{Path: writeFile(t, dir, "1T2025.csv",
			[]byte("REG_ANS;DESCRICAO;VL_SALDO_FINAL\nR1;EVENTOS;0,00\nR1;OUTRO;9,00\n"))}},
	}

	_, err := newPipeline(cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrNoUsableInput)
}

func TestRunMissingRegistryContinues(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RegistryPath: filepath.Join(dir, "absent.csv"),
		Sources:      []Source{{Path: writeFile(t, dir, "1T2025.csv", []byte(ledgerCSV))}},
	}

	res, err := newPipeline(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Summary.Files[0].Status)
	require.Len(t, res.Consolidated, 1)
	assert.False(t, res.Consolidated[0].Matched)
	assert.Empty(t, res.Aggregates)
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RegistryPath: writeFile(t, dir, "cadop.csv", []byte(registryCSV)),
		Sources:      []Source{{Path: writeFile(t, dir, "1T2025.csv", []byte(ledgerCSV))}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(cfg).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResultPublish(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RegistryPath: writeFile(t, dir, "cadop.csv", []byte(registryCSV)),
		Sources:      []Source{{Path: writeFile(t, dir, "1T2025.csv", []byte(ledgerCSV))}},
	}
	res, err := newPipeline(cfg).Run(context.Background())
	require.NoError(t, err)

	paths, err := res.WriteArtifacts(filepath.Join(dir, "out"), true)
	require.NoError(t, err)
	assert.FileExists(t, paths.Archive)

	raw, err := os.ReadFile(paths.Summary)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "run-1", summary.RunID)

	consolidated, err := os.ReadFile(paths.Consolidated)
	require.NoError(t, err)
	assert.Equal(t,
		"registryId;taxId;legalName;year;quarter;amount;description\n"+
			"R1;12345678000199;Acme;2025;1T;50;EVENTOS X\n",
		string(consolidated))
	assert.Equal(t, filepath.Join(dir, "out", artifact.AggregatesFile), paths.Aggregates)

	st, err := store.Open(filepath.Join(dir, "ansetl.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, res.Store(context.Background(), st))

	snap, err := snapshot.Load(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.RunID)
	expenses, err := snap.Expenses("12345678000199")
	require.NoError(t, err)
	assert.Len(t, expenses, 1)

	inMemory := res.Snapshot()
	assert.Equal(t, snap.OperatorCount(), inMemory.OperatorCount())
	assert.Equal(t, snap.ExpenseCount(), inMemory.ExpenseCount())
}
