package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One ledger, one assertion"
files:
  - name: cadop.csv
    content: "REGISTRO_OPERADORA;CNPJ;Razao_Social;Modalidade;UF\nR1;12345678000199;Acme;Cooperativa;SP\n"
  - name: 1T2025.csv
    content: "REG_ANS;DESCRICAO;VL_SALDO_FINAL\nR1;EVENTOS;10,00\n"
registry: cadop.csv
sources:
  - path: 1T2025.csv
assertions:
  - type: consolidated_count
    count: 1
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "cadop.csv", scenario.Registry)
	assert.Len(t, scenario.Files, 2)
	require.Len(t, scenario.Sources, 1)
	assert.Equal(t, "1T2025.csv", scenario.Sources[0].Path)
	require.Len(t, scenario.Assertions, 1)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 1, *scenario.Assertions[0].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	_, err := ParseScenario([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	base := `
name: s
description: d
registry: cadop.csv
sources:
  - path: a.csv
`
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "description: d\nregistry: r\nsources: [{path: a}]\nassertions: [{type: consolidated_count, count: 1}]\n", "name is required"},
		{"missing description", "name: s\nregistry: r\nsources: [{path: a}]\nassertions: [{type: consolidated_count, count: 1}]\n", "description is required"},
		{"missing registry", "name: s\ndescription: d\nsources: [{path: a}]\nassertions: [{type: consolidated_count, count: 1}]\n", "registry is required"},
		{"missing sources", "name: s\ndescription: d\nregistry: r\nassertions: [{type: consolidated_count, count: 1}]\n", "sources list is required"},
		{"missing assertions", base, "assertions list is required"},
		{"unknown expect_error", base + "expect_error: boom\n", "unknown expect_error"},
		{"bad number format", "name: s\ndescription: d\nregistry: r\nsources: [{path: a, number_format: roman}]\nassertions: [{type: consolidated_count, count: 1}]\n", "sources[0]"},
		{"bad encoding", base + "files: [{name: a.csv, content: x, encoding: utf-16}]\nassertions: [{type: consolidated_count, count: 1}]\n", "unknown encoding"},
		{"duplicate file", base + "files: [{name: a.csv, content: x}, {name: a.csv, content: y}]\nassertions: [{type: consolidated_count, count: 1}]\n", "duplicate name"},
		{"bad group_by", base + "group_by: [color]\nassertions: [{type: consolidated_count, count: 1}]\n", "group_by"},
		{"unknown assertion", base + "assertions: [{type: trace_contains}]\n", "unknown assertion type"},
		{"summary without path", base + "assertions: [{type: summary, equals: 1}]\n", "path is required"},
		{"file_status without status", base + "assertions: [{type: file_status, file: a.csv}]\n", "file and status are required"},
		{"count missing", base + "assertions: [{type: consolidated_count}]\n", "non-negative count"},
		{"count negative", base + "assertions: [{type: consolidated_count, count: -1}]\n", "non-negative count"},
		{"aggregate without key", base + "assertions: [{type: aggregate, total: \"1.00\"}]\n", "key is required"},
		{"final_state without table", base + "assertions: [{type: final_state, expect: {a: 1}}]\n", "table is required"},
		{"final_state without expect", base + "assertions: [{type: final_state, table: runs}]\n", "expect is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_ExpectErrorWithoutAssertions(t *testing.T) {
	content := `
name: s
description: d
registry: cadop.csv
sources:
  - path: a.csv
expect_error: no_usable_input
`
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, ErrorNoUsableInput, scenario.ExpectError)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "summary", AssertSummary)
	assert.Equal(t, "file_status", AssertFileStatus)
	assert.Equal(t, "consolidated_count", AssertConsolidatedCount)
	assert.Equal(t, "aggregate", AssertAggregate)
	assert.Equal(t, "final_state", AssertFinalState)
}

// TestLoadExampleScenarios validates the scenario files in testdata/scenarios.
func TestLoadExampleScenarios(t *testing.T) {
	tests := []struct {
		file           string
		wantName       string
		wantSources    int
		wantAssertions int
	}{
		{"quarterly_consolidation.yaml", "quarterly_consolidation", 2, 14},
		{"bad_files_isolated.yaml", "bad_files_isolated", 5, 9},
		{"unknown_periods.yaml", "unknown_periods", 1, 6},
		{"nothing_usable.yaml", "nothing_usable", 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", tt.file))
			require.NoError(t, err, "Failed to load example scenario %s", tt.file)

			assert.Equal(t, tt.wantName, scenario.Name)
			assert.Len(t, scenario.Sources, tt.wantSources)
			assert.Len(t, scenario.Assertions, tt.wantAssertions)
		})
	}
}
