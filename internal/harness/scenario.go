package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/source"
)

// Scenario defines a conformance scenario: a set of input files, how to run
// the pipeline over them, and what the run must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Files are written into a fresh directory before the run.
	Files []FileFixture `yaml:"files"`

	// Registry names the operator registry among Files.
	Registry string `yaml:"registry"`

	// Sources lists the ledger files, in run order. A path not among Files
	// is passed through as-is so scenarios can exercise missing inputs.
	Sources []SourceStep `yaml:"sources"`

	// Keywords overrides the default expense keywords.
	Keywords []string `yaml:"keywords,omitempty"`

	// GroupBy is the aggregation key. Empty means the run default.
	GroupBy []string `yaml:"group_by,omitempty"`

	// RunID is the fixed run id. Defaults to "scenario-run".
	RunID string `yaml:"run_id,omitempty"`

	// ExpectError names the error kind the run must fail with. Empty means
	// the run must succeed. Supported: no_usable_input.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the run's output and final database state.
	Assertions []Assertion `yaml:"assertions"`
}

// FileFixture is one input file.
type FileFixture struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
	// Encoding is utf-8 (default) or latin-1. Latin-1 content is
	// re-encoded from the YAML text before writing.
	Encoding string `yaml:"encoding,omitempty"`
	// BOM prefixes the file with a UTF-8 byte order mark.
	BOM bool `yaml:"bom,omitempty"`
}

// SourceStep is one ledger file to read.
type SourceStep struct {
	Path         string `yaml:"path"`
	NumberFormat string `yaml:"number_format,omitempty"`
}

// Assertion validates one aspect of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "summary": Check a value in the run summary by dotted path
	// - "file_status": Check how one input file was handled
	// - "consolidated_count": Check the number of consolidated expenses
	// - "aggregate": Check one aggregate row by group key
	// - "final_state": Query a store table and verify expected values
	Type string `yaml:"type"`

	// Path is the dotted summary path (used by summary), e.g.
	// "consolidation.duplicates" or "files.1.status".
	Path string `yaml:"path,omitempty"`

	// Equals is the expected value (used by summary).
	Equals interface{} `yaml:"equals,omitempty"`

	// File is the input file name (used by file_status).
	File string `yaml:"file,omitempty"`

	// Status and ErrorKind are the expected outcome (used by file_status).
	Status    string `yaml:"status,omitempty"`
	ErrorKind string `yaml:"error_kind,omitempty"`

	// Key is the group key (used by aggregate).
	Key []string `yaml:"key,omitempty"`

	// Total and Mean are two-decimal amounts (used by aggregate).
	Total string `yaml:"total,omitempty"`
	Mean  string `yaml:"mean,omitempty"`

	// Count is the expected count (used by consolidated_count and aggregate).
	Count *int `yaml:"count,omitempty"`

	// Table is the store table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSummary           = "summary"
	AssertFileStatus        = "file_status"
	AssertConsolidatedCount = "consolidated_count"
	AssertAggregate         = "aggregate"
	AssertFinalState        = "final_state"
)

// Expected error kinds.
const (
	ErrorNoUsableInput = "no_usable_input"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Registry == "" {
		return fmt.Errorf("registry is required")
	}

	if len(s.Sources) == 0 {
		return fmt.Errorf("sources list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 && s.ExpectError == "" {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	switch s.ExpectError {
	case "", ErrorNoUsableInput:
	default:
		return fmt.Errorf("unknown expect_error %q", s.ExpectError)
	}

	seen := make(map[string]bool, len(s.Files))
	for i, f := range s.Files {
		if f.Name == "" {
			return fmt.Errorf("files[%d]: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("files[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true
		switch source.Encoding(f.Encoding) {
		case "", source.UTF8, source.Latin1:
		default:
			return fmt.Errorf("files[%d]: unknown encoding %q", i, f.Encoding)
		}
	}

	for i, src := range s.Sources {
		if src.Path == "" {
			return fmt.Errorf("sources[%d]: path is required", i)
		}
		if _, err := classify.ParseNumberFormat(src.NumberFormat); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}

	if len(s.GroupBy) > 0 {
		if _, err := s.groupBy(); err != nil {
			return fmt.Errorf("group_by: %w", err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func (s *Scenario) groupBy() (record.FieldSet, error) {
	if len(s.GroupBy) == 0 {
		return nil, nil
	}
	return record.ParseFieldSet(strings.Join(s.GroupBy, ","))
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSummary:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for summary", index)
		}
	case AssertFileStatus:
		if a.File == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: file and status are required for file_status", index)
		}
	case AssertConsolidatedCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for consolidated_count", index)
		}
	case AssertAggregate:
		if len(a.Key) == 0 {
			return fmt.Errorf("assertions[%d]: key is required for aggregate", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
