// Package pipeline runs the expense ETL end to end: decode, map, classify,
// consolidate, join and aggregate.
//
// A run is synchronous and single-writer. Every source file is isolated: a
// file that cannot be decoded, mapped or classified is recorded as skipped in
// the run Summary and the run continues. The only fatal outcome is
// ErrNoUsableInput, when no ledger file could be used or nothing survived
// consolidation.
//
// Two join views come out of a run. The consolidated view is a left join and
// keeps expenses with no registry match under sentinel values. The
// statistics view is an inner join and is the only input to aggregation.
package pipeline
