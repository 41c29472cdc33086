package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/assad-lz/ansetl/internal/artifact"
	"github.com/assad-lz/ansetl/internal/pgexport"
	"github.com/assad-lz/ansetl/internal/snapshot"
	"github.com/assad-lz/ansetl/internal/store"
)

// WriteArtifacts writes the consolidated CSV, the aggregate CSV and the
// summary into dir, plus the ZIP archive when compress is set.
func (r *Result) WriteArtifacts(dir string, compress bool) (artifact.Paths, error) {
	return artifact.WriteDir(dir, artifact.Set{
		Consolidated: r.Consolidated,
		GroupBy:      r.GroupBy,
		Aggregates:   r.Aggregates,
		Summary:      r.Summary,
		Compress:     compress,
	})
}

// Store replaces the run held in st with this one.
func (r *Result) Store(ctx context.Context, st *store.Store) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	run := store.Run{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Summary:    summary,
	}
	return st.ReplaceRun(ctx, run, r.Operators, r.Consolidated)
}

// Export reloads the Postgres mirror with this run.
func (r *Result) Export(ctx context.Context, x *pgexport.Exporter) (pgexport.Report, error) {
	return x.Replace(ctx, r.Operators, r.Consolidated)
}

// Snapshot builds the query snapshot for this run.
func (r *Result) Snapshot() *snapshot.Snapshot {
	return snapshot.Build(r.RunID, r.FinishedAt, r.Operators, r.Consolidated)
}
