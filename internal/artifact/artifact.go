// Package artifact writes the files a pipeline run produces: the
// consolidated expense CSV, the aggregate CSV, the run summary and the
// optional ZIP archive.
package artifact

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/assad-lz/ansetl/internal/record"
)

// Artifact file names.
const (
	ConsolidatedFile = "consolidado_despesas.csv"
	AggregatesFile   = "despesas_agregadas.csv"
	SummaryFile      = "summary.json"
	ArchiveFile      = "consolidado_despesas.zip"
)

// Delimiter separates fields in every CSV artifact.
const Delimiter = ';'

var consolidatedHeader = []string{
	string(record.FieldRegistryID),
	string(record.FieldTaxID),
	string(record.FieldLegalName),
	string(record.FieldYear),
	string(record.FieldQuarter),
	"amount",
	"description",
}

var aggregateStats = []string{"totalAmount", "meanAmount", "stdDevAmount", "count"}

// Paths lists the files written for a run.
type Paths struct {
	Consolidated string `json:"consolidated"`
	Aggregates   string `json:"aggregates"`
	Summary      string `json:"summary"`
	Archive      string `json:"archive,omitempty"`
}

// WriteConsolidated writes the left-joined expense records.
// Unknown periods have an empty year and the quarter "unknown".
func WriteConsolidated(w io.Writer, records []record.ExpenseRecord) error {
	cw := newCSV(w)
	if err := cw.Write(consolidatedHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		year := ""
		if r.Period.Known() {
			year = strconv.Itoa(r.Period.Year)
		}
		row := []string{
			r.RegistryID,
			r.TaxID,
			r.LegalName,
			year,
			r.Period.Quarter.String(),
			r.Amount.String(),
			r.Description,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", r.RegistryID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAggregates writes one line per aggregate row: the groupBy columns
// followed by the statistics. Amounts use two decimals.
func WriteAggregates(w io.Writer, groupBy record.FieldSet, rows []record.AggregateRow) error {
	cw := newCSV(w)
	header := append(groupBy.Names(), aggregateStats...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		line := make([]string, 0, len(header))
		for _, f := range groupBy {
			line = append(line, r.Value(f))
		}
		line = append(line,
			r.TotalAmount.StringFixed(2),
			r.MeanAmount.StringFixed(2),
			strconv.FormatFloat(r.StdDevAmount, 'f', 2, 64),
			strconv.Itoa(r.Count),
		)
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write aggregate: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Archive stores the file at src in a new ZIP archive at dst under its base
// name.
func Archive(dst, src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	zw := zip.NewWriter(out)
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(src), Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create archive entry: %w", err)
	}
	if _, err := io.Copy(entry, in); err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func newCSV(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	return cw
}
