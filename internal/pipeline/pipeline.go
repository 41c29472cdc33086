package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/assad-lz/ansetl/internal/aggregate"
	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/consolidate"
	"github.com/assad-lz/ansetl/internal/enrich"
	"github.com/assad-lz/ansetl/internal/metrics"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/runid"
	"github.com/assad-lz/ansetl/internal/schema"
	"github.com/assad-lz/ansetl/internal/source"
)

// ErrNoUsableInput is returned when no ledger file could be used, or when
// no expense survived consolidation.
var ErrNoUsableInput = errors.New("no usable input")

// Source is one ledger file with its declared read settings.
type Source struct {
	Path     string
	Format   classify.NumberFormat
	Dialects []source.Dialect
}

// Config describes a run's inputs.
type Config struct {
	RegistryPath     string
	RegistryDialects []source.Dialect
	Sources          []Source

	// Keywords overrides classify.DefaultKeywords when set.
	Keywords []string

	// GroupBy is the aggregation key. Defaults to record.ByOperatorRegion.
	GroupBy record.FieldSet
}

// Result holds everything a run produced.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Operators []record.OperatorRecord

	// Consolidated is the left-joined view, in consolidation order.
	Consolidated []record.ExpenseRecord
	// Matched is the inner-joined view used for statistics.
	Matched []record.ExpenseRecord

	GroupBy record.FieldSet
	// Aggregates are ranked by total descending.
	Aggregates []record.AggregateRow

	Summary Summary
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRunIDs sets the run id generator. Default: runid.UUIDv7.
func WithRunIDs(g runid.Generator) Option {
	return func(p *Pipeline) {
		p.ids = g
	}
}

// WithClock sets the clock used for run timestamps.
func WithClock(c runid.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// Pipeline executes runs for a fixed Config.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	ids     runid.Generator
	clock   runid.Clock
}

// New creates a pipeline for cfg.
func New(cfg Config, opts ...Option) *Pipeline {
	if len(cfg.GroupBy) == 0 {
		cfg.GroupBy = record.ByOperatorRegion
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
		ids:    runid.UUIDv7{},
		clock:  runid.SystemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one full run. Per-file failures are reported in the Summary;
// the returned error is ErrNoUsableInput, a context error, or nil. On
// ErrNoUsableInput the partial Result is still returned for diagnostics.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     p.ids.Generate(),
		StartedAt: p.clock.Now(),
		GroupBy:   p.cfg.GroupBy,
	}
	res.Summary.RunID = res.RunID
	res.Summary.StartedAt = res.StartedAt
	res.Summary.GroupBy = p.cfg.GroupBy.Names()
	logger := p.logger.With("run_id", res.RunID)

	err := p.run(ctx, logger, res)

	res.FinishedAt = p.clock.Now()
	res.Summary.FinishedAt = res.FinishedAt
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	p.metrics.ObserveRun(outcome, res.FinishedAt.Sub(res.StartedAt))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	mapper := schema.NewMapper(logger)

	ops, reg := p.loadRegistry(mapper)
	res.Summary.Files = append(res.Summary.Files, reg)
	res.Operators = ops
	res.Summary.Operators = len(ops)
	if reg.Status == StatusSkipped {
		logger.Warn("registry unavailable, continuing with empty registry",
			"file", reg.Path, "kind", reg.ErrorKind, "error", reg.Error)
	}

	var batches [][]record.ExpenseRecord
	for _, src := range p.cfg.Sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled: %w", err)
		}
		recs, outcome := p.loadLedger(mapper, src, logger)
		res.Summary.Files = append(res.Summary.Files, outcome)
		if outcome.Status == StatusSkipped {
			logger.Warn("skipping source file", "file", src.Path, "kind", outcome.ErrorKind, "error", outcome.Error)
			continue
		}
		batches = append(batches, recs)
	}
	if len(batches) == 0 {
		return fmt.Errorf("%w: none of %d source file(s) could be read", ErrNoUsableInput, len(p.cfg.Sources))
	}

	consolidated, crep := consolidate.Consolidate(batches...)
	res.Summary.Consolidation = crep
	p.metrics.AddRows("consolidate", "duplicate", crep.Duplicates)
	p.metrics.AddRows("consolidate", "zero", crep.Zeros)
	p.metrics.AddRows("consolidate", "output", crep.Output)
	logger.Info("consolidated",
		"input", crep.Input,
		"duplicates", crep.Duplicates,
		"zeros", crep.Zeros,
		"output", crep.Output,
	)
	if len(consolidated) == 0 {
		return fmt.Errorf("%w: no expense rows survived consolidation", ErrNoUsableInput)
	}

	idx := enrich.NewIndex(ops)
	left, jrep := enrich.LeftJoin(consolidated, idx)
	jrep.DuplicateOperators = reg.FilteredOut
	res.Consolidated = left
	res.Matched = enrich.InnerJoin(consolidated, idx)
	res.Summary.Join = jrep
	p.metrics.AddRows("enrich", "matched", jrep.Matched)
	p.metrics.AddRows("enrich", "unmatched", jrep.Unmatched)
	enrich.LogReport(logger, jrep)

	res.Aggregates = aggregate.Rank(aggregate.Aggregate(res.Matched, p.cfg.GroupBy))
	res.Summary.AggregateGroups = len(res.Aggregates)
	logger.Info("aggregated", "group_by", res.Summary.GroupBy, "groups", len(res.Aggregates))
	return nil
}

func (p *Pipeline) loadRegistry(mapper *schema.Mapper) ([]record.OperatorRecord, FileOutcome) {
	out := FileOutcome{Path: p.cfg.RegistryPath, Role: RoleRegistry}
	if p.cfg.RegistryPath == "" {
		p.skip(&out, errors.New("no registry file configured"))
		return []record.OperatorRecord{}, out
	}

	decoded, err := source.ReadFile(p.cfg.RegistryPath, p.cfg.RegistryDialects)
	if err != nil {
		p.skip(&out, err)
		return []record.OperatorRecord{}, out
	}
	p.noteDecoded(&out, decoded)

	batch, err := mapper.Map(p.cfg.RegistryPath, schema.KindRegistry, decoded.Header, decoded.Rows)
	if err != nil {
		p.skip(&out, err)
		return []record.OperatorRecord{}, out
	}
	out.Mapping = mappingNames(batch)

	ops, dups := enrich.OperatorsFromBatch(batch)
	out.Status = StatusOK
	out.Kept = len(ops)
	// Repeated registry ids are the only rows a registry drops.
	out.FilteredOut = dups
	p.metrics.IncFile(RoleRegistry, "loaded")
	return ops, out
}

func (p *Pipeline) loadLedger(mapper *schema.Mapper, src Source, logger *slog.Logger) ([]record.ExpenseRecord, FileOutcome) {
	out := FileOutcome{Path: src.Path, Role: RoleLedger}

	decoded, err := source.ReadFile(src.Path, src.Dialects)
	if err != nil {
		p.skip(&out, err)
		return nil, out
	}
	p.noteDecoded(&out, decoded)

	batch, err := mapper.Map(src.Path, schema.KindLedger, decoded.Header, decoded.Rows)
	if err != nil {
		p.skip(&out, err)
		return nil, out
	}
	out.Mapping = mappingNames(batch)

	res, err := classify.New(src.Format, p.cfg.Keywords, logger).Classify(batch, src.Path)
	if err != nil {
		p.skip(&out, err)
		return nil, out
	}

	out.Status = StatusOK
	out.Kept = res.Kept
	out.FilteredOut = res.FilteredOut
	out.ParseErrors = res.ParseErrors
	out.PeriodFromName = res.PeriodFromName
	for _, pe := range res.Errors {
		out.ParseErrorSamples = append(out.ParseErrorSamples, pe.Error())
	}
	if res.ParseErrors > 0 {
		logger.Warn("rows dropped on parse errors", "file", src.Path, "count", res.ParseErrors)
	}
	logger.Info("source file classified",
		"file", src.Path,
		"dialect", out.Dialect,
		"rows", out.Rows,
		"kept", res.Kept,
		"filtered_out", res.FilteredOut,
	)

	p.metrics.IncFile(RoleLedger, "loaded")
	p.metrics.AddRows("classify", "kept", res.Kept)
	p.metrics.AddRows("classify", "filtered_out", res.FilteredOut)
	p.metrics.AddRows("classify", "parse_error", res.ParseErrors)
	return res.Records, out
}

func (p *Pipeline) noteDecoded(out *FileOutcome, d *source.Decoded) {
	out.Dialect = d.Dialect.String()
	out.Rows = len(d.Rows)
	out.SkippedLines = d.SkippedLines
}

func (p *Pipeline) skip(out *FileOutcome, err error) {
	out.Status = StatusSkipped
	out.ErrorKind = errorKind(err)
	out.Error = err.Error()
	p.metrics.IncFile(out.Role, "skipped")
}

func mappingNames(b *schema.Batch) map[string]string {
	m := make(map[string]string, len(b.Mapping))
	for f, col := range b.Mapping {
		m[string(f)] = col
	}
	return m
}
