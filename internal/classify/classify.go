// Package classify selects expense rows from a mapped ledger batch and turns
// them into expense records tagged with a reporting period.
package classify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/assad-lz/ansetl/internal/keys"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/schema"
)

// DefaultKeywords are the description terms that mark an expense event
// ("Despesas com Eventos/Sinistros").
var DefaultKeywords = []string{"EVENTOS", "SINISTRO"}

// maxReportedErrors caps how many ParseErrors a Result keeps for diagnostics.
// All of them are counted.
const maxReportedErrors = 20

// ErrMissingDescription is returned when a batch has no description column.
// The keyword filter cannot be evaluated, so the batch is skipped.
var ErrMissingDescription = errors.New("batch has no description column")

// ParseError describes a row dropped because its amount or date could not be
// parsed. It is never fatal.
type ParseError struct {
	Source string
	Row    int // 1-based data row, header excluded
	Field  schema.Field
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s row %d: cannot parse %s %q: %v", e.Source, e.Row, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Result is the outcome of classifying one batch.
type Result struct {
	Records []record.ExpenseRecord

	Scanned     int
	Kept        int
	FilteredOut int
	ParseErrors int

	// Errors holds the first few ParseErrors.
	Errors []*ParseError

	// PeriodFromName is set when the file name carried the period token.
	PeriodFromName bool
}

// Classifier filters and tags ledger rows.
type Classifier struct {
	Keywords []string
	Format   NumberFormat
	Logger   *slog.Logger
}

// New returns a Classifier using DefaultKeywords when keywords is empty.
func New(format NumberFormat, keywords []string, logger *slog.Logger) *Classifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	upper := make([]string, len(keywords))
	for i, k := range keywords {
		upper[i] = strings.ToUpper(strings.TrimSpace(k))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{Keywords: upper, Format: format, Logger: logger}
}

// Classify keeps the rows whose description contains an expense keyword and
// converts them into expense records. sourceName is the file name the batch
// came from; its period token, when present, tags every record.
func (c *Classifier) Classify(batch *schema.Batch, sourceName string) (*Result, error) {
	if !batch.Has(schema.FieldDescription) {
		c.Logger.Warn("skipping batch without description column", "source", sourceName)
		return nil, fmt.Errorf("%s: %w", sourceName, ErrMissingDescription)
	}

	filePeriod, fromName := PeriodFromFileName(sourceName)
	hasDate := batch.Has(schema.FieldDate)

	res := &Result{Records: []record.ExpenseRecord{}, PeriodFromName: fromName}
	for i, row := range batch.Rows {
		res.Scanned++

		desc := strings.TrimSpace(batch.Value(row, schema.FieldDescription))
		if !c.matches(desc) {
			res.FilteredOut++
			continue
		}

		period := filePeriod
		if !fromName {
			period = record.UnknownPeriod
			if raw := strings.TrimSpace(batch.Value(row, schema.FieldDate)); hasDate && raw != "" {
				p, err := PeriodFromDate(raw)
				if err != nil {
					c.fail(res, &ParseError{Source: sourceName, Row: i + 1, Field: schema.FieldDate, Value: raw, Err: err})
					continue
				}
				period = p
			}
		}

		rawAmount := batch.Value(row, schema.FieldAmount)
		amount, err := c.Format.Parse(rawAmount)
		if err != nil {
			c.fail(res, &ParseError{Source: sourceName, Row: i + 1, Field: schema.FieldAmount, Value: rawAmount, Err: err})
			continue
		}

		res.Records = append(res.Records, record.ExpenseRecord{
			RegistryID:  keys.RegistryID(batch.Value(row, schema.FieldRegistryID)),
			Period:      period,
			Amount:      amount,
			Description: desc,
		})
		res.Kept++
	}

	c.Logger.Debug("batch classified",
		"source", sourceName,
		"scanned", res.Scanned,
		"kept", res.Kept,
		"filtered_out", res.FilteredOut,
		"parse_errors", res.ParseErrors,
		"period_from_name", fromName,
	)
	return res, nil
}

func (c *Classifier) matches(desc string) bool {
	if desc == "" {
		return false
	}
	upper := strings.ToUpper(desc)
	for _, k := range c.Keywords {
		if k != "" && strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

func (c *Classifier) fail(res *Result, pe *ParseError) {
	res.ParseErrors++
	if len(res.Errors) < maxReportedErrors {
		res.Errors = append(res.Errors, pe)
	}
	c.Logger.Debug("row dropped", "error", pe)
}
