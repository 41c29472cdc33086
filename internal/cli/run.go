package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/assad-lz/ansetl/internal/aggregate"
	"github.com/assad-lz/ansetl/internal/artifact"
	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/config"
	"github.com/assad-lz/ansetl/internal/metrics"
	"github.com/assad-lz/ansetl/internal/pgexport"
	"github.com/assad-lz/ansetl/internal/pipeline"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/runid"
	"github.com/assad-lz/ansetl/internal/source"
	"github.com/assad-lz/ansetl/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Manifest     string
	Registry     string
	Sources      []string
	NumberFormat string
	Keywords     []string
	GroupBy      string
	Out          string
	Compress     bool
	Database     string
	PostgresDSN  string
	Top          int

	// RunIDs and Clock override run identity (for testing).
	// If nil, defaults to runid.UUIDv7 and runid.SystemClock.
	RunIDs runid.Generator
	Clock  runid.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consolidate ledger files into artifacts",
		Long: `Read the operator registry and the quarterly ledger files, keep expense
events, consolidate them, join them with the registry and aggregate.

Inputs come from a manifest (--manifest) or from flags. Flags given
alongside a manifest override it.

Example:
  ansetl run --manifest ./ansetl.yaml
  ansetl run --registry ./Relatorio_cadop.csv --sources './data/*T2025.csv' --out ./out
  ansetl run --manifest ./ansetl.yaml --db ./ansetl.db --compress`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "path to run manifest (YAML)")
	cmd.Flags().StringVar(&opts.Registry, "registry", "", "path to the operator registry file")
	cmd.Flags().StringSliceVar(&opts.Sources, "sources", nil, "ledger files or globs")
	cmd.Flags().StringVar(&opts.NumberFormat, "number-format", "decimal_comma", "amount format of --sources (decimal_comma|decimal_point)")
	cmd.Flags().StringSliceVar(&opts.Keywords, "keywords", nil, "description keywords marking expense events")
	cmd.Flags().StringVar(&opts.GroupBy, "group-by", "legalName,region", "aggregation fields, comma separated")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "artifact output directory")
	cmd.Flags().BoolVar(&opts.Compress, "compress", false, "also write a ZIP archive of the consolidated CSV")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to load the run into")
	cmd.Flags().StringVar(&opts.PostgresDSN, "postgres-dsn", "", "Postgres database to mirror the run into")
	cmd.Flags().IntVar(&opts.Top, "top", 5, "aggregate groups to print (0 prints all)")

	return cmd
}

// runPlan is a run's resolved inputs and destinations.
type runPlan struct {
	cfg         pipeline.Config
	out         string
	compress    bool
	database    string
	postgresDSN string
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	plan, err := opts.plan(cmd)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			_ = formatter.Error(ErrCodeInvalidManifest, "manifest is invalid", verr.Problems)
			return WrapExitError(ExitCommandError, "invalid manifest", err)
		}
		_ = formatter.Error(ErrCodeInvalidFlags, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid run configuration", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	popts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithMetrics(m)}
	if opts.RunIDs != nil {
		popts = append(popts, pipeline.WithRunIDs(opts.RunIDs))
	}
	if opts.Clock != nil {
		popts = append(popts, pipeline.WithClock(opts.Clock))
	}

	formatter.VerboseLog("Reading %d ledger file(s)", len(plan.cfg.Sources))
	res, err := pipeline.New(plan.cfg, popts...).Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoUsableInput) {
			var skipped []pipeline.FileOutcome
			if res != nil {
				skipped = res.Summary.Skipped()
			}
			_ = formatter.Error(ErrCodeNoUsableInput, err.Error(), skipped)
			return WrapExitError(ExitFailure, "run produced no output", err)
		}
		return WrapExitError(ExitFailure, "run failed", err)
	}

	report := runReport{Summary: res.Summary, Top: aggregate.TopN(res.Aggregates, opts.Top)}

	paths, err := res.WriteArtifacts(plan.out, plan.compress)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write artifacts", err)
	}
	report.Artifacts = paths

	if plan.database != "" {
		logger.Info("opening database", "path", plan.database)
		st, err := store.Open(plan.database)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, "failed to open database", plan.database)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		err = res.Store(ctx, st)
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
		if err != nil {
			_ = formatter.Error(ErrCodeStore, "failed to store run", plan.database)
			return WrapExitError(ExitCommandError, "failed to store run", err)
		}
		report.Database = plan.database
	}

	if plan.postgresDSN != "" {
		pool, err := pgexport.Connect(ctx, plan.postgresDSN)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, "failed to connect to postgres", nil)
			return WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		exp, err := res.Export(ctx, pgexport.New(pool, logger))
		pool.Close()
		if err != nil {
			_ = formatter.Error(ErrCodeStore, "failed to export run", nil)
			return WrapExitError(ExitCommandError, "failed to export run", err)
		}
		report.Postgres = &exp
	}

	return formatter.SuccessRun(res.RunID, report)
}

// plan merges the manifest, if any, with flags. Flags the user set win.
func (o *RunOptions) plan(cmd *cobra.Command) (runPlan, error) {
	var p runPlan
	changed := cmd.Flags().Changed

	if o.Manifest != "" {
		man, err := config.Load(o.Manifest)
		if err != nil {
			return p, err
		}
		p.cfg.RegistryPath = man.Registry.Path
		if p.cfg.RegistryDialects, err = man.RegistryDialects(); err != nil {
			return p, err
		}
		resolved, err := man.ResolveSources()
		if err != nil {
			return p, err
		}
		for _, rs := range resolved {
			p.cfg.Sources = append(p.cfg.Sources, pipeline.Source{Path: rs.Path, Format: rs.Format, Dialects: rs.Dialects})
		}
		p.cfg.Keywords = man.Keywords
		p.out = man.Output.Dir
		p.compress = man.Output.Compress
		p.database = man.Store.SQLite
		p.postgresDSN = man.Store.PostgresDSN
	}

	if changed("registry") || p.cfg.RegistryPath == "" {
		p.cfg.RegistryPath = o.Registry
		p.cfg.RegistryDialects = source.DefaultDialects
	}
	if changed("sources") || len(p.cfg.Sources) == 0 {
		format, err := classify.ParseNumberFormat(o.NumberFormat)
		if err != nil {
			return p, err
		}
		sources, err := expandSources(o.Sources, format)
		if err != nil {
			return p, err
		}
		p.cfg.Sources = sources
	}
	if changed("keywords") {
		p.cfg.Keywords = o.Keywords
	}
	if changed("out") || p.out == "" {
		p.out = o.Out
	}
	if changed("compress") {
		p.compress = o.Compress
	}
	if changed("db") {
		p.database = o.Database
	}
	if changed("postgres-dsn") {
		p.postgresDSN = o.PostgresDSN
	}

	groupBy, err := record.ParseFieldSet(o.GroupBy)
	if err != nil {
		return p, fmt.Errorf("--group-by: %w", err)
	}
	p.cfg.GroupBy = groupBy

	switch {
	case p.cfg.RegistryPath == "":
		return p, errors.New("no registry: pass --registry or --manifest")
	case len(p.cfg.Sources) == 0:
		return p, errors.New("no ledger files: pass --sources or --manifest")
	case p.out == "":
		return p, errors.New("no output directory: pass --out or --manifest")
	case o.Top < 0:
		return p, fmt.Errorf("--top must be >= 0, got %d", o.Top)
	}
	return p, nil
}

// expandSources resolves flag-given paths through the manifest resolver so
// globs and missing files behave the same either way.
func expandSources(paths []string, format classify.NumberFormat) ([]pipeline.Source, error) {
	man := &config.Manifest{}
	for _, p := range paths {
		man.Sources = append(man.Sources, config.SourceSpec{Path: p, NumberFormat: format.String()})
	}
	resolved, err := man.ResolveSources()
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Source, 0, len(resolved))
	for _, rs := range resolved {
		out = append(out, pipeline.Source{Path: rs.Path, Format: rs.Format, Dialects: rs.Dialects})
	}
	return out, nil
}

// runReport is the run command's output.
type runReport struct {
	Summary   pipeline.Summary      `json:"summary"`
	Artifacts artifact.Paths        `json:"artifacts"`
	Database  string                `json:"database,omitempty"`
	Postgres  *pgexport.Report      `json:"postgres,omitempty"`
	Top       []record.AggregateRow `json:"top"`
}

func (r runReport) WriteText(w io.Writer) error {
	s := r.Summary
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	for _, f := range s.Files {
		if f.Status == pipeline.StatusSkipped {
			fmt.Fprintf(w, "  skipped %s (%s): %s\n", f.Path, f.ErrorKind, f.Error)
			continue
		}
		fmt.Fprintf(w, "  read    %s [%s] rows=%d kept=%d parse_errors=%d\n", f.Path, f.Dialect, f.Rows, f.Kept, f.ParseErrors)
	}
	fmt.Fprintf(w, "Consolidated %d of %d expenses (%d duplicates, %d zero)\n",
		s.Consolidation.Output, s.Consolidation.Input, s.Consolidation.Duplicates, s.Consolidation.Zeros)
	fmt.Fprintf(w, "Joined with %d operators: %d matched, %d unmatched\n",
		s.Operators, s.Join.Matched, s.Join.Unmatched)

	if len(r.Top) > 0 {
		fmt.Fprintf(w, "Top groups by %s:\n", strings.Join(s.GroupBy, ", "))
		for i, row := range r.Top {
			fmt.Fprintf(w, "  %d. %s  total=%s mean=%s n=%d\n",
				i+1, strings.Join(row.GroupKey, " / "), row.TotalAmount.StringFixed(2), row.MeanAmount.StringFixed(2), row.Count)
		}
	}

	fmt.Fprintf(w, "Wrote %s\n", r.Artifacts.Consolidated)
	fmt.Fprintf(w, "Wrote %s\n", r.Artifacts.Aggregates)
	fmt.Fprintf(w, "Wrote %s\n", r.Artifacts.Summary)
	if r.Artifacts.Archive != "" {
		fmt.Fprintf(w, "Wrote %s\n", r.Artifacts.Archive)
	}
	if r.Database != "" {
		fmt.Fprintf(w, "Loaded into %s\n", r.Database)
	}
	if r.Postgres != nil {
		fmt.Fprintf(w, "Exported %d operators, %d expenses to postgres\n", r.Postgres.Operators, r.Postgres.Expenses)
	}
	return nil
}
