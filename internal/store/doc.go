// Package store keeps the latest pipeline run in SQLite so the query API can
// be served without re-running the pipeline.
//
// Each run replaces the operators and expenses tables wholesale inside one
// transaction; readers see either the previous run or the new one, never a
// mix. Aggregates are not stored: they are recomputed from the expenses.
//
// Reads return rows in insertion order (ORDER BY seq) and return empty
// slices, not nil, when a table is empty.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during a reload
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
