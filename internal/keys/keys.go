// Package keys canonicalizes operator identifiers into stable comparison keys.
//
// Both sides of every join go through the same functions here, so the
// consolidated view and the statistics view can never disagree on whether an
// expense matches an operator.
package keys

import (
	"strings"
	"unicode/utf8"
)

// floatArtifact is the suffix left behind when a numeric column was read as a
// float upstream and written back as text ("123456.0").
const floatArtifact = ".0"

// TaxIDLength is the digit count of a well-formed tax ID.
const TaxIDLength = 14

// RegistryID normalizes a registry identifier.
//
// Surrounding whitespace and trailing ".0" artifacts are removed until the
// value stops changing, which makes the function idempotent. Leading zeros
// and internal digits are kept: identifiers compare as strings. Input that is
// not valid UTF-8 normalizes to "", which never matches anything.
func RegistryID(raw string) string {
	if !utf8.ValidString(raw) {
		return ""
	}
	s := raw
	for {
		next := strings.TrimSuffix(strings.TrimSpace(s), floatArtifact)
		if next == s {
			return s
		}
		s = next
	}
}

// TaxID keeps only the ASCII digits of raw. The result never contains a
// non-digit character.
func TaxID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ValidTaxID reports whether raw has exactly TaxIDLength digits once
// punctuation is removed.
func ValidTaxID(raw string) bool {
	return len(TaxID(raw)) == TaxIDLength
}
