// Package enrich joins expense records with the operator registry.
package enrich

import (
	"log/slog"
	"strings"

	"github.com/assad-lz/ansetl/internal/keys"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/schema"
)

// Report counts join outcomes.
type Report struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`

	// DuplicateOperators counts registry rows dropped because an earlier row
	// had the same registry id.
	DuplicateOperators int `json:"duplicate_operators"`
	InvalidTaxIDs      int `json:"invalid_tax_ids"`
}

// OperatorsFromBatch converts a mapped registry batch into operator records.
// Rows without a registry id are skipped. The first row wins for a repeated
// id; the number of dropped repeats is returned.
func OperatorsFromBatch(b *schema.Batch) ([]record.OperatorRecord, int) {
	out := make([]record.OperatorRecord, 0, len(b.Rows))
	seen := make(map[string]struct{}, len(b.Rows))
	dups := 0
	for _, row := range b.Rows {
		id := keys.RegistryID(b.Value(row, schema.FieldRegistryID))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			dups++
			continue
		}
		seen[id] = struct{}{}
		out = append(out, record.OperatorRecord{
			RegistryID: id,
			TaxID:      keys.TaxID(b.Value(row, schema.FieldTaxID)),
			LegalName:  strings.TrimSpace(b.Value(row, schema.FieldLegalName)),
			Region:     strings.ToUpper(strings.TrimSpace(b.Value(row, schema.FieldRegion))),
			Modality:   strings.TrimSpace(b.Value(row, schema.FieldModality)),
		})
	}
	return out, dups
}

// Index looks operators up by normalized registry id.
type Index struct {
	byID map[string]record.OperatorRecord
}

// NewIndex builds an index; the first operator wins for a repeated id.
func NewIndex(ops []record.OperatorRecord) *Index {
	idx := &Index{byID: make(map[string]record.OperatorRecord, len(ops))}
	for _, op := range ops {
		id := keys.RegistryID(op.RegistryID)
		if id == "" {
			continue
		}
		if _, ok := idx.byID[id]; !ok {
			idx.byID[id] = op
		}
	}
	return idx
}

// Lookup returns the operator registered under id.
func (x *Index) Lookup(id string) (record.OperatorRecord, bool) {
	op, ok := x.byID[keys.RegistryID(id)]
	return op, ok
}

// Len returns the number of indexed operators.
func (x *Index) Len() int {
	return len(x.byID)
}

// LeftJoin returns one enriched record per input record, in input order.
// Records with no registry match carry the sentinel legal name and tax id
// and an empty region.
func LeftJoin(expenses []record.ExpenseRecord, idx *Index) ([]record.ExpenseRecord, Report) {
	var rep Report
	out := make([]record.ExpenseRecord, len(expenses))
	for i, e := range expenses {
		e = apply(e, idx)
		if e.Matched {
			rep.Matched++
			if !e.TaxIDValid {
				rep.InvalidTaxIDs++
			}
		} else {
			rep.Unmatched++
		}
		out[i] = e
	}
	return out, rep
}

// InnerJoin keeps only the records with a registry match.
func InnerJoin(expenses []record.ExpenseRecord, idx *Index) []record.ExpenseRecord {
	out := make([]record.ExpenseRecord, 0, len(expenses))
	for _, e := range expenses {
		if e = apply(e, idx); e.Matched {
			out = append(out, e)
		}
	}
	return out
}

func apply(e record.ExpenseRecord, idx *Index) record.ExpenseRecord {
	op, ok := idx.Lookup(e.RegistryID)
	if !ok {
		e.TaxID = record.TaxIDUnknown
		e.LegalName = record.LegalNameUnavailable
		e.Region = ""
		e.Matched = false
		e.TaxIDValid = false
		return e
	}
	e.TaxID = op.TaxID
	e.LegalName = op.LegalName
	e.Region = op.Region
	e.Matched = true
	e.TaxIDValid = keys.ValidTaxID(op.TaxID)
	return e
}

// LogReport writes the join counts at info level and warns when tax ids fail
// validation.
func LogReport(logger *slog.Logger, rep Report) {
	logger.Info("enrichment join",
		"matched", rep.Matched,
		"unmatched", rep.Unmatched,
		"duplicate_operators", rep.DuplicateOperators,
	)
	if rep.InvalidTaxIDs > 0 {
		logger.Warn("matched operators with invalid tax id", "count", rep.InvalidTaxIDs)
	}
}
