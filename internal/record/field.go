package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Field names a canonical attribute an expense can be grouped by.
type Field string

const (
	FieldRegistryID Field = "registryId"
	FieldTaxID      Field = "taxId"
	FieldLegalName  Field = "legalName"
	FieldRegion     Field = "region"
	FieldYear       Field = "year"
	FieldQuarter    Field = "quarter"
)

// FieldSet is an ordered list of grouping fields.
type FieldSet []Field

// Common groupings.
var (
	ByOperator       = FieldSet{FieldRegistryID, FieldLegalName}
	ByRegion         = FieldSet{FieldRegion}
	ByOperatorRegion = FieldSet{FieldLegalName, FieldRegion}
)

// Value extracts the field from an expense record. Unknown fields yield "".
func (f Field) Value(e ExpenseRecord) string {
	switch f {
	case FieldRegistryID:
		return e.RegistryID
	case FieldTaxID:
		return e.TaxID
	case FieldLegalName:
		return e.LegalName
	case FieldRegion:
		return e.Region
	case FieldYear:
		if !e.Period.Known() {
			return ""
		}
		return strconv.Itoa(e.Period.Year)
	case FieldQuarter:
		return e.Period.Quarter.String()
	}
	return ""
}

// Names returns the field names as strings, in order.
func (fs FieldSet) Names() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

var knownFields = []Field{FieldRegistryID, FieldTaxID, FieldLegalName, FieldRegion, FieldYear, FieldQuarter}

// ParseFieldSet parses a comma-separated list of field names. Names match
// case-insensitively; a repeated or unknown name is an error.
func ParseFieldSet(s string) (FieldSet, error) {
	var fs FieldSet
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		f, ok := lookupField(name)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		for _, have := range fs {
			if have == f {
				return nil, fmt.Errorf("field %q listed twice", name)
			}
		}
		fs = append(fs, f)
	}
	if len(fs) == 0 {
		return nil, fmt.Errorf("empty field list")
	}
	return fs, nil
}

func lookupField(name string) (Field, bool) {
	for _, f := range knownFields {
		if strings.EqualFold(string(f), name) {
			return f, true
		}
	}
	return "", false
}
