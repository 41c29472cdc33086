package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/assad-lz/ansetl/internal/pipeline"
	"github.com/assad-lz/ansetl/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	// Files is the per-file outcome of the run, for context.
	Files []pipeline.FileOutcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Files) > 0 {
		fmt.Fprintf(&buf, "\nFiles:\n")
		for i, f := range e.Files {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", i+1, f.Path, f.Role, f.Status)
			if f.ErrorKind != "" {
				fmt.Fprintf(&buf, " (%s)", f.ErrorKind)
			}
			fmt.Fprintln(&buf)
		}
	}

	return buf.String()
}

// assertSummary looks up a dotted path in the JSON form of the summary and
// compares it with the expected value.
func assertSummary(summary pipeline.Summary, assertion Assertion) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	actual, ok := lookupPath(doc, assertion.Path)
	if !ok {
		return &AssertionError{
			Type:     AssertSummary,
			Expected: fmt.Sprintf("%s = %v", assertion.Path, assertion.Equals),
			Actual:   fmt.Sprintf("path %q not present", assertion.Path),
			Files:    summary.Files,
		}
	}
	if !looselyEqual(assertion.Equals, actual) {
		return &AssertionError{
			Type:     AssertSummary,
			Expected: fmt.Sprintf("%s = %v", assertion.Path, assertion.Equals),
			Actual:   fmt.Sprintf("%s = %v", assertion.Path, actual),
			Files:    summary.Files,
		}
	}
	return nil
}

// lookupPath walks maps by key and slices by numeric index.
func lookupPath(doc interface{}, path string) (interface{}, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// assertFileStatus checks how the named input file was handled.
func assertFileStatus(summary pipeline.Summary, assertion Assertion) error {
	for _, f := range summary.Files {
		if f.Path != assertion.File {
			continue
		}
		if f.Status != assertion.Status || (assertion.ErrorKind != "" && f.ErrorKind != assertion.ErrorKind) {
			return &AssertionError{
				Type:     AssertFileStatus,
				Expected: fmt.Sprintf("%s %s %s", assertion.File, assertion.Status, assertion.ErrorKind),
				Actual:   fmt.Sprintf("%s %s %s: %s", f.Path, f.Status, f.ErrorKind, f.Error),
				Files:    summary.Files,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertFileStatus,
		Expected: fmt.Sprintf("outcome for %s", assertion.File),
		Actual:   "file not in summary",
		Files:    summary.Files,
	}
}

// assertConsolidatedCount checks the number of consolidated expenses.
func assertConsolidatedCount(res *pipeline.Result, assertion Assertion) error {
	if got := len(res.Consolidated); got != *assertion.Count {
		return &AssertionError{
			Type:     AssertConsolidatedCount,
			Expected: fmt.Sprintf("%d consolidated expenses", *assertion.Count),
			Actual:   fmt.Sprintf("%d consolidated expenses", got),
			Files:    res.Summary.Files,
		}
	}
	return nil
}

// assertAggregate finds the aggregate row with the given key and checks the
// fields the assertion sets.
func assertAggregate(res *pipeline.Result, assertion Assertion) error {
	for _, row := range res.Aggregates {
		if !reflect.DeepEqual(row.GroupKey, assertion.Key) {
			continue
		}
		var diffs []string
		if assertion.Total != "" && row.TotalAmount.StringFixed(2) != assertion.Total {
			diffs = append(diffs, fmt.Sprintf("total %s", row.TotalAmount.StringFixed(2)))
		}
		if assertion.Mean != "" && row.MeanAmount.StringFixed(2) != assertion.Mean {
			diffs = append(diffs, fmt.Sprintf("mean %s", row.MeanAmount.StringFixed(2)))
		}
		if assertion.Count != nil && row.Count != *assertion.Count {
			diffs = append(diffs, fmt.Sprintf("count %d", row.Count))
		}
		if len(diffs) > 0 {
			return &AssertionError{
				Type:     AssertAggregate,
				Expected: describeAggregate(assertion),
				Actual:   strings.Join(diffs, ", "),
			}
		}
		return nil
	}

	keys := make([]string, 0, len(res.Aggregates))
	for _, row := range res.Aggregates {
		keys = append(keys, strings.Join(row.GroupKey, "/"))
	}
	return &AssertionError{
		Type:     AssertAggregate,
		Expected: describeAggregate(assertion),
		Actual:   fmt.Sprintf("no such group; groups: %v", keys),
	}
}

func describeAggregate(a Assertion) string {
	parts := []string{strings.Join(a.Key, "/")}
	if a.Total != "" {
		parts = append(parts, "total "+a.Total)
	}
	if a.Mean != "" {
		parts = append(parts, "mean "+a.Mean)
	}
	if a.Count != nil {
		parts = append(parts, fmt.Sprintf("count %d", *a.Count))
	}
	return strings.Join(parts, ", ")
}

// assertFinalState checks if a store table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	// Validate table name to prevent SQL injection (identifiers can't be parameterized)
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err // Identifier validation failed
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Subset semantics - only check fields in Expect
	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !looselyEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	conditions := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		if !validIdentifier.MatchString(k) {
			return "", nil, fmt.Errorf("invalid column name %q: must match pattern %s", k, validIdentifier.String())
		}
		if where[k] == nil {
			conditions = append(conditions, k+" IS NULL")
			continue
		}
		conditions = append(conditions, k+" = ?")
		args = append(args, toSQLValue(where[k]))
	}
	return strings.Join(conditions, " AND "), args, nil
}

// toSQLValue maps YAML scalars onto what SQLite stores.
func toSQLValue(v interface{}) interface{} {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// looselyEqual compares a YAML-decoded expected value with a value read
// from JSON or SQLite. Numbers compare by value, booleans match 0/1, and
// byte slices compare as strings.
func looselyEqual(expected, actual interface{}) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	if exp, ok := expected.(bool); ok {
		switch act := actual.(type) {
		case bool:
			return exp == act
		case int64:
			return exp == (act != 0)
		}
		return false
	}

	if ef, ok := toFloat(expected); ok {
		if af, ok := toFloat(actual); ok {
			return ef == af
		}
		return false
	}

	if es, ok := expected.(string); ok {
		as, ok := actual.(string)
		return ok && es == as
	}

	return reflect.DeepEqual(expected, actual)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if result.Run == nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: run produced no result", i))
			continue
		}

		switch assertion.Type {
		case AssertSummary:
			err = assertSummary(result.Run.Summary, assertion)
		case AssertFileStatus:
			err = assertFileStatus(result.Run.Summary, assertion)
		case AssertConsolidatedCount:
			err = assertConsolidatedCount(result.Run, assertion)
		case AssertAggregate:
			err = assertAggregate(result.Run, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
