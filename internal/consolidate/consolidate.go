// Package consolidate merges per-file expense batches into one deduplicated
// collection.
package consolidate

import (
	"github.com/assad-lz/ansetl/internal/record"
)

// Report counts what consolidation did.
type Report struct {
	Input      int `json:"input"`
	Duplicates int `json:"duplicates"`
	Zeros      int `json:"zeros"`
	Output     int `json:"output"`
}

// Consolidate concatenates batches, drops full-row duplicates keeping the
// first occurrence, then drops records whose amount is zero. Duplicates are
// removed before zeros, so a zero duplicate counts once as a duplicate.
func Consolidate(batches ...[]record.ExpenseRecord) ([]record.ExpenseRecord, Report) {
	var rep Report
	for _, b := range batches {
		rep.Input += len(b)
	}

	out := make([]record.ExpenseRecord, 0, rep.Input)
	seen := make(map[string]struct{}, rep.Input)
	for _, b := range batches {
		for _, e := range b {
			k := e.Key()
			if _, dup := seen[k]; dup {
				rep.Duplicates++
				continue
			}
			seen[k] = struct{}{}
			if e.Amount.IsZero() {
				rep.Zeros++
				continue
			}
			out = append(out, e)
		}
	}
	rep.Output = len(out)
	return out, rep
}
