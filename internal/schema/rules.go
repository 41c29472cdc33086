package schema

import "strings"

// Field is a canonical column name.
type Field string

const (
	FieldRegistryID     Field = "registryId"
	FieldTaxID          Field = "taxId"
	FieldLegalName      Field = "legalName"
	FieldRegion         Field = "region"
	FieldModality       Field = "modality"
	FieldDate           Field = "date"
	FieldDescription    Field = "description"
	FieldAmount         Field = "amount"
	FieldAccountCode    Field = "accountCode"
	FieldOpeningBalance Field = "openingBalance"
)

// Rule matches a cleaned column name. Exact, when set, must equal the name.
// Otherwise every Contains term must appear and no Excludes term may appear.
type Rule struct {
	Field    Field
	Exact    string
	Contains []string
	Excludes []string
}

// Match reports whether the cleaned column name satisfies the rule.
func (r Rule) Match(col string) bool {
	if r.Exact != "" {
		return col == r.Exact
	}
	if len(r.Contains) == 0 {
		return false
	}
	for _, term := range r.Contains {
		if !strings.Contains(col, term) {
			return false
		}
	}
	for _, term := range r.Excludes {
		if strings.Contains(col, term) {
			return false
		}
	}
	return true
}

func exact(f Field, name string) Rule {
	return Rule{Field: f, Exact: name}
}

func contains(f Field, terms []string, excludes ...string) Rule {
	return Rule{Field: f, Contains: terms, Excludes: excludes}
}

// DefaultRules is the priority-ordered rule list. Exact rules for a field
// always precede its substring rules.
var DefaultRules = []Rule{
	exact(FieldRegistryID, "REGISTRO_OPERADORA"),
	exact(FieldRegistryID, "REG_ANS"),
	exact(FieldRegistryID, "REGISTRO_ANS"),
	exact(FieldRegistryID, "REGISTROANS"),
	exact(FieldRegistryID, "CD_OPERADORA"),
	contains(FieldRegistryID, []string{"REGISTRO", "ANS"}, "DATA"),
	contains(FieldRegistryID, []string{"REGISTRO", "OPERADORA"}, "DATA"),

	exact(FieldTaxID, "CNPJ"),
	contains(FieldTaxID, []string{"CNPJ"}),

	exact(FieldLegalName, "RAZAO_SOCIAL"),
	exact(FieldLegalName, "RAZAOSOCIAL"),
	contains(FieldLegalName, []string{"RAZAO"}),

	exact(FieldRegion, "UF"),
	exact(FieldRegion, "SG_UF"),
	exact(FieldRegion, "SIGLA_UF"),

	exact(FieldModality, "MODALIDADE"),
	contains(FieldModality, []string{"MODALIDADE"}),

	exact(FieldDate, "DATA"),
	exact(FieldDate, "DT_REFERENCIA"),

	exact(FieldDescription, "DESCRICAO"),
	contains(FieldDescription, []string{"DESCRICAO"}),

	exact(FieldAmount, "VL_SALDO_FINAL"),
	exact(FieldAmount, "VALORDESPESAS"),
	exact(FieldAmount, "VALOR_DESPESAS"),
	exact(FieldAmount, "VALOR_DESPESA"),

	exact(FieldAccountCode, "CD_CONTA_CONTABIL"),
	exact(FieldOpeningBalance, "VL_SALDO_INICIAL"),
}

// Kind hints which source family a batch comes from. It selects the mandatory
// field set.
type Kind int

const (
	KindRegistry Kind = iota
	KindLedger
)

func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindLedger:
		return "ledger"
	}
	return "unknown"
}

// Mandatory returns the fields a batch of this kind must map.
func (k Kind) Mandatory() []Field {
	switch k {
	case KindLedger:
		return []Field{FieldRegistryID, FieldAmount}
	default:
		return []Field{FieldRegistryID}
	}
}
