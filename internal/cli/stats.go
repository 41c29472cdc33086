package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/snapshot"
	"github.com/assad-lz/ansetl/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
	Top      int
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print statistics of the latest stored run",
		Long: `Print the matched expense total and the top operators and regions by
total expense for the latest run loaded into the database.

Example:
  ansetl stats --db ./ansetl.db
  ansetl stats --db ./ansetl.db --top 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", envOr("ANSETL_DB", ""), "path to SQLite database (env ANSETL_DB)")
	cmd.Flags().IntVar(&opts.Top, "top", 5, "operators and regions to list")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Database == "" {
		_ = formatter.Error(ErrCodeInvalidFlags, "no database: pass --db or set ANSETL_DB", nil)
		return NewExitError(ExitCommandError, "no database given")
	}
	if opts.Top < 1 {
		_ = formatter.Error(ErrCodeInvalidFlags, fmt.Sprintf("--top must be >= 1, got %d", opts.Top), nil)
		return NewExitError(ExitCommandError, "invalid --top")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to open database", opts.Database)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	snap, err := snapshot.Load(cmd.Context(), st)
	if errors.Is(err, snapshot.ErrUnavailable) {
		_ = formatter.Error(ErrCodeNoData, "no run stored yet; run `ansetl run --db` first", opts.Database)
		return WrapExitError(ExitFailure, "no data", err)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to read database", opts.Database)
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}

	runs, err := st.CountRuns(cmd.Context())
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to read database", opts.Database)
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}

	stats, err := snap.Statistics(opts.Top)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compute statistics", err)
	}
	return formatter.SuccessRun(snap.RunID, statsReport{RunID: snap.RunID, RunsStored: runs, Statistics: stats})
}

type statsReport struct {
	RunID      string `json:"run_id"`
	RunsStored int    `json:"runs_stored"`
	snapshot.Statistics
}

func (r statsReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Run %s: %d matched expenses totalling %s\n", r.RunID, r.Count, r.TotalAmount.StringFixed(2))
	fmt.Fprintf(w, "Runs stored: %d\n", r.RunsStored)
	writeRanking(w, "Top operators", r.TopOperators)
	writeRanking(w, "Top regions", r.TopRegions)
	return nil
}

func writeRanking(w io.Writer, title string, rows []record.AggregateRow) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(rows) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for i, row := range rows {
		fmt.Fprintf(w, "  %d. %-40s %15s  n=%d\n", i+1, strings.Join(row.GroupKey, " / "), row.TotalAmount.StringFixed(2), row.Count)
	}
}
