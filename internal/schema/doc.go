// Package schema maps arbitrarily named and ordered source columns onto the
// fixed canonical schema the pipeline works with.
//
// Mapping is driven by an explicit rule list evaluated top to bottom. For a
// given canonical field the first rule that matches any column wins; later
// candidates for the same field are ignored. A column claimed by one field
// cannot be claimed by another. Columns matching no rule pass through under
// their cleaned names so later stages can ignore them.
//
// The one rule that is never relaxed: a column whose name contains DATA never
// maps to the registry identifier, even when it also contains REGISTRO and
// ANS ("DATA_REGISTRO_ANS" is a registration date).
package schema
