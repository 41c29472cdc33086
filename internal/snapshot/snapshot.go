// Package snapshot holds the read-only view of one pipeline run that the
// query API serves from.
//
// A Snapshot is built once per run: indexes, per-operator expense lists and
// statistics are all derived at build time, so queries never re-normalize or
// re-join. A Snapshot is immutable after Build and safe for concurrent reads.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/assad-lz/ansetl/internal/aggregate"
	"github.com/assad-lz/ansetl/internal/enrich"
	"github.com/assad-lz/ansetl/internal/keys"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/store"
)

// MaxPageSize bounds the page size accepted by Operators.
const MaxPageSize = 100

var (
	// ErrNotFound means the requested operator does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means no pipeline run has produced data.
	ErrUnavailable = errors.New("data unavailable")
	// ErrInvalidPage means a page or page size is out of range.
	ErrInvalidPage = errors.New("invalid page request")
)

// OperatorStatsGroup is the grouping used for the top operators ranking.
var OperatorStatsGroup = record.FieldSet{record.FieldRegistryID, record.FieldLegalName, record.FieldRegion}

// Snapshot is an immutable per-run dataset.
type Snapshot struct {
	RunID   string
	BuiltAt time.Time

	operators  []record.OperatorRecord
	upperNames []string
	byRegistry map[string]int
	byTaxID    map[string]int
	expenses   map[string][]record.ExpenseRecord
	expenseN   int

	operatorStats []record.AggregateRow
	regionStats   []record.AggregateRow
	matchedTotal  decimal.Decimal
	matchedCount  int
}

// Build derives a snapshot from a run's registry and left-joined expenses.
// Statistics use only matched expenses.
func Build(runID string, builtAt time.Time, ops []record.OperatorRecord, consolidated []record.ExpenseRecord) *Snapshot {
	s := &Snapshot{
		RunID:      runID,
		BuiltAt:    builtAt,
		operators:  slices.Clone(ops),
		upperNames: make([]string, len(ops)),
		byRegistry: make(map[string]int, len(ops)),
		byTaxID:    make(map[string]int, len(ops)),
		expenses:   make(map[string][]record.ExpenseRecord),
		expenseN:   len(consolidated),
	}
	if s.operators == nil {
		s.operators = []record.OperatorRecord{}
	}

	for i, op := range s.operators {
		s.upperNames[i] = strings.ToUpper(op.LegalName)
		if _, ok := s.byRegistry[op.RegistryID]; !ok {
			s.byRegistry[op.RegistryID] = i
		}
		if tax := keys.TaxID(op.TaxID); tax != "" {
			if _, ok := s.byTaxID[tax]; !ok {
				s.byTaxID[tax] = i
			}
		}
	}

	for _, e := range consolidated {
		s.expenses[e.RegistryID] = append(s.expenses[e.RegistryID], e)
	}
	for id, list := range s.expenses {
		slices.SortStableFunc(list, func(a, b record.ExpenseRecord) int {
			return comparePeriodDesc(a.Period, b.Period)
		})
		s.expenses[id] = list
	}

	matched := enrich.InnerJoin(consolidated, enrich.NewIndex(s.operators))
	s.operatorStats = aggregate.Rank(aggregate.Aggregate(matched, OperatorStatsGroup))
	s.regionStats = aggregate.Rank(aggregate.Aggregate(matched, record.ByRegion))
	s.matchedTotal = decimal.Zero
	for _, e := range matched {
		s.matchedTotal = s.matchedTotal.Add(e.Amount)
	}
	s.matchedCount = len(matched)
	return s
}

// comparePeriodDesc orders newest first with unknown periods last.
func comparePeriodDesc(a, b record.Period) int {
	switch {
	case !a.Known() && !b.Known():
		return 0
	case !a.Known():
		return 1
	case !b.Known():
		return -1
	}
	return b.Compare(a)
}

// Source is the store surface Load reads from.
type Source interface {
	LatestRun(ctx context.Context) (store.Run, error)
	Operators(ctx context.Context) ([]record.OperatorRecord, error)
	Expenses(ctx context.Context) ([]record.ExpenseRecord, error)
}

// Load builds a snapshot from the latest stored run. It returns
// ErrUnavailable when nothing has been stored.
func Load(ctx context.Context, src Source) (*Snapshot, error) {
	run, err := src.LatestRun(ctx)
	if errors.Is(err, store.ErrNoRun) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	ops, err := src.Operators(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	expenses, err := src.Expenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return Build(run.ID, run.FinishedAt, ops, expenses), nil
}

// Available reports whether the snapshot holds any data.
func (s *Snapshot) Available() bool {
	return s != nil && (len(s.operators) > 0 || s.expenseN > 0)
}

// OperatorCount returns the number of registry operators.
func (s *Snapshot) OperatorCount() int {
	if s == nil {
		return 0
	}
	return len(s.operators)
}

// ExpenseCount returns the number of consolidated expenses.
func (s *Snapshot) ExpenseCount() int {
	if s == nil {
		return 0
	}
	return s.expenseN
}
