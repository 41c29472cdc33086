// Package aggregate computes grouped expense statistics.
package aggregate

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/assad-lz/ansetl/internal/record"
)

type group struct {
	key     []string
	amounts []decimal.Decimal
	total   decimal.Decimal
}

// Aggregate groups records by the given fields and returns one row per
// distinct key, ordered by key ascending. Records are not filtered here:
// callers pass matched records when the grouping needs registry attributes.
func Aggregate(records []record.ExpenseRecord, groupBy record.FieldSet) []record.AggregateRow {
	groups := make(map[string]*group)
	order := make([]string, 0)
	for _, r := range records {
		key := make([]string, len(groupBy))
		for i, f := range groupBy {
			key[i] = f.Value(r)
		}
		id := strings.Join(key, "\x00")
		g, ok := groups[id]
		if !ok {
			g = &group{key: key, total: decimal.Zero}
			groups[id] = g
			order = append(order, id)
		}
		g.amounts = append(g.amounts, r.Amount)
		g.total = g.total.Add(r.Amount)
	}

	rows := make([]record.AggregateRow, 0, len(order))
	for _, id := range order {
		g := groups[id]
		n := len(g.amounts)
		mean := g.total.Div(decimal.NewFromInt(int64(n)))
		rows = append(rows, record.AggregateRow{
			Group:        slices.Clone(groupBy),
			GroupKey:     g.key,
			TotalAmount:  g.total,
			MeanAmount:   mean,
			StdDevAmount: sampleStdDev(g.amounts, mean),
			Count:        n,
		})
	}
	slices.SortFunc(rows, func(a, b record.AggregateRow) int {
		return slices.Compare(a.GroupKey, b.GroupKey)
	})
	return rows
}

// sampleStdDev uses divisor n-1 and returns 0 for fewer than two values.
func sampleStdDev(xs []decimal.Decimal, mean decimal.Decimal) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := decimal.Zero
	for _, x := range xs {
		d := x.Sub(mean)
		ss = ss.Add(d.Mul(d))
	}
	variance := ss.Div(decimal.NewFromInt(int64(len(xs) - 1)))
	return math.Sqrt(variance.InexactFloat64())
}

// Rank orders rows by total descending; ties fall back to the group key.
// The input is not modified.
func Rank(rows []record.AggregateRow) []record.AggregateRow {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b record.AggregateRow) int {
		if c := b.TotalAmount.Cmp(a.TotalAmount); c != 0 {
			return c
		}
		return slices.Compare(a.GroupKey, b.GroupKey)
	})
	return out
}

// TopN returns the n highest-ranked rows. n <= 0 returns every row ranked.
func TopN(rows []record.AggregateRow, n int) []record.AggregateRow {
	ranked := Rank(rows)
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
