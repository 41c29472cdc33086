package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SchemaError reports that a mandatory canonical field could not be mapped.
// The whole batch is rejected.
type SchemaError struct {
	Source   string
	Field    Field
	Observed []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: no column maps to mandatory field %q (observed columns: %s)",
		e.Source, e.Field, strings.Join(e.Observed, ", "))
}

// IsSchemaError reports whether err is, or wraps, a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// Batch is a record batch whose columns have been renamed onto the canonical
// schema.
type Batch struct {
	Source string
	Kind   Kind

	// Header holds the canonical field name for mapped columns and the cleaned
	// original name for passthrough columns.
	Header []string
	Rows   [][]string

	// Mapping records which observed column fed each canonical field.
	Mapping map[Field]string

	index map[Field]int
}

// Has reports whether the batch carries field f.
func (b *Batch) Has(f Field) bool {
	_, ok := b.index[f]
	return ok
}

// Value returns field f from row, or "" when the field is not mapped.
func (b *Batch) Value(row []string, f Field) string {
	i, ok := b.index[f]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Mapper applies a rule list to incoming headers.
type Mapper struct {
	Rules  []Rule
	Logger *slog.Logger
}

// NewMapper returns a Mapper over DefaultRules.
func NewMapper(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{Rules: DefaultRules, Logger: logger}
}

// Map renames header onto the canonical schema and returns the batch. rows are
// carried through untouched. A *SchemaError is returned when a mandatory field
// for kind cannot be mapped.
func (m *Mapper) Map(source string, kind Kind, header []string, rows [][]string) (*Batch, error) {
	cleaned := make([]string, len(header))
	for i, h := range header {
		cleaned[i] = CleanColumn(h)
	}

	claimed := make([]bool, len(cleaned))
	index := make(map[Field]int)
	mapping := make(map[Field]string)

	for _, rule := range m.Rules {
		for i, col := range cleaned {
			if claimed[i] || !rule.Match(col) {
				continue
			}
			if _, done := index[rule.Field]; done {
				m.logger().Debug("ignoring later column candidate",
					"source", source, "field", rule.Field, "column", col, "kept", mapping[rule.Field])
				continue
			}
			index[rule.Field] = i
			mapping[rule.Field] = header[i]
			claimed[i] = true
		}
	}

	for _, f := range kind.Mandatory() {
		if _, ok := index[f]; !ok {
			return nil, &SchemaError{Source: source, Field: f, Observed: append([]string(nil), header...)}
		}
	}

	out := make([]string, len(cleaned))
	copy(out, cleaned)
	for f, i := range index {
		out[i] = string(f)
	}

	m.logger().Debug("columns mapped", "source", source, "kind", kind, "mapping", mapping)

	return &Batch{
		Source:  source,
		Kind:    kind,
		Header:  out,
		Rows:    rows,
		Mapping: mapping,
		index:   index,
	}, nil
}

func (m *Mapper) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// CleanColumn normalizes a raw column name: quotes and BOM removed, accents
// folded, trimmed, uppercased, spaces turned into underscores and dots
// dropped. "Razão Social" becomes "RAZAO_SOCIAL".
func CleanColumn(raw string) string {
	s := strings.TrimPrefix(raw, "\ufeff")
	s = strings.ReplaceAll(s, `"`, "")
	s = foldAccents(strings.TrimSpace(s))
	s = strings.ToUpper(s)
	s = strings.Join(strings.Fields(s), "_")
	return strings.ReplaceAll(s, ".", "")
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
