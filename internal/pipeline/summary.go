package pipeline

import (
	"errors"
	"time"

	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/consolidate"
	"github.com/assad-lz/ansetl/internal/enrich"
	"github.com/assad-lz/ansetl/internal/schema"
	"github.com/assad-lz/ansetl/internal/source"
)

// File roles.
const (
	RoleRegistry = "registry"
	RoleLedger   = "ledger"
)

// File statuses.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
)

// Error kinds recorded for skipped files.
const (
	KindSchema             = "schema"
	KindEncoding           = "encoding"
	KindMissingDescription = "missing_description"
	KindIO                 = "io"
)

// FileOutcome reports what happened to one input file.
type FileOutcome struct {
	Path      string `json:"path"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	Dialect      string            `json:"dialect,omitempty"`
	Mapping      map[string]string `json:"mapping,omitempty"`
	SkippedLines int               `json:"skipped_lines"`

	Rows           int  `json:"rows"`
	Kept           int  `json:"kept"`
	FilteredOut    int  `json:"filtered_out"`
	ParseErrors    int  `json:"parse_errors"`
	PeriodFromName bool `json:"period_from_name,omitempty"`

	// ParseErrorSamples holds the first few parse errors as text.
	ParseErrorSamples []string `json:"parse_error_samples,omitempty"`
}

// Summary is the machine-readable account of one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Files         []FileOutcome      `json:"files"`
	Operators     int                `json:"operators"`
	Consolidation consolidate.Report `json:"consolidation"`
	Join          enrich.Report      `json:"join"`

	GroupBy         []string `json:"group_by"`
	AggregateGroups int      `json:"aggregate_groups"`
}

// Skipped returns the outcomes of files that were not used.
func (s Summary) Skipped() []FileOutcome {
	out := []FileOutcome{}
	for _, f := range s.Files {
		if f.Status == StatusSkipped {
			out = append(out, f)
		}
	}
	return out
}

// errorKind classifies a per-file failure.
func errorKind(err error) string {
	switch {
	case schema.IsSchemaError(err):
		return KindSchema
	case source.IsEncodingError(err):
		return KindEncoding
	case errors.Is(err, classify.ErrMissingDescription):
		return KindMissingDescription
	default:
		return KindIO
	}
}
