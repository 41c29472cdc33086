package record

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinel values written into enrichment fields when an expense has no
// matching operator in the registry.
const (
	LegalNameUnavailable = "Unavailable"
	TaxIDUnknown         = "Unknown"
)

// OperatorRecord is one row of the operator registry.
type OperatorRecord struct {
	RegistryID string `json:"registry_id"`
	TaxID      string `json:"tax_id"`
	LegalName  string `json:"legal_name"`
	Region     string `json:"region"`
	Modality   string `json:"modality,omitempty"`
}

// ExpenseRecord is one accounting line item classified as an expense event.
//
// TaxID, LegalName and Region are empty until the record passes through the
// enrichment join. Matched and TaxIDValid are also set by the join.
type ExpenseRecord struct {
	RegistryID  string          `json:"registry_id"`
	Period      Period          `json:"period"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`

	TaxID     string `json:"tax_id"`
	LegalName string `json:"legal_name"`
	Region    string `json:"region"`

	Matched    bool `json:"matched"`
	TaxIDValid bool `json:"tax_id_valid"`
}

// Key returns the full-row identity of the record over its canonical fields.
// Two records with equal keys are duplicates. Amounts compare by value, so
// "50.00" and "50" produce the same key.
func (e ExpenseRecord) Key() string {
	var b strings.Builder
	b.WriteString(e.RegistryID)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(e.Period.Year))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(int(e.Period.Quarter)))
	b.WriteByte(0)
	b.WriteString(e.Amount.String())
	b.WriteByte(0)
	b.WriteString(e.Description)
	b.WriteByte(0)
	b.WriteString(e.TaxID)
	b.WriteByte(0)
	b.WriteString(e.LegalName)
	b.WriteByte(0)
	b.WriteString(e.Region)
	return b.String()
}

// AggregateRow holds the statistics for one grouping key.
//
// StdDevAmount is the sample standard deviation (divisor n-1) and is 0 for a
// group with a single member.
type AggregateRow struct {
	Group        FieldSet        `json:"group_by"`
	GroupKey     []string        `json:"group_key"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	MeanAmount   decimal.Decimal `json:"mean_amount"`
	StdDevAmount float64         `json:"std_dev_amount"`
	Count        int             `json:"count"`
}

// Value returns the group key value for field f, or "" when the row was not
// grouped by f.
func (a AggregateRow) Value(f Field) string {
	for i, g := range a.Group {
		if g == f && i < len(a.GroupKey) {
			return a.GroupKey[i]
		}
	}
	return ""
}
