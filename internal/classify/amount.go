package classify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NumberFormat is the declared decimal convention of a source file. It is
// fixed per file; amounts are never guessed row by row.
type NumberFormat int

const (
	// DecimalComma is "1.234,56": dot groups thousands, comma is decimal.
	DecimalComma NumberFormat = iota
	// DecimalPoint is "1,234.56": comma groups thousands, dot is decimal.
	DecimalPoint
)

var errBlankAmount = errors.New("blank amount")

// ParseNumberFormat accepts "decimal_comma" and "decimal_point". An empty
// string is DecimalComma, the regulator's convention.
func ParseNumberFormat(s string) (NumberFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "decimal_comma":
		return DecimalComma, nil
	case "decimal_point":
		return DecimalPoint, nil
	}
	return DecimalComma, fmt.Errorf("unknown number format %q", s)
}

func (f NumberFormat) String() string {
	if f == DecimalPoint {
		return "decimal_point"
	}
	return "decimal_comma"
}

// Parse converts raw into a decimal under the format.
func (f NumberFormat) Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, errBlankAmount
	}

	switch f {
	case DecimalPoint:
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}
