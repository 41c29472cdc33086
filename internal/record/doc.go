// Package record defines the tabular record types that flow through the ETL
// pipeline: operators from the registry, expense line items from the quarterly
// ledgers, and the aggregate rows derived from them.
//
// This package contains type definitions and small value helpers only. Every
// other internal package imports record; record imports nothing internal.
//
// Key design constraints:
//   - Amounts are decimal.Decimal, never float64
//   - Registry identifiers are compared as strings, never as integers
//   - A zero Period (Quarter == QuarterUnknown) means "unknown period"
package record
