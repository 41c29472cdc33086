package snapshot

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/assad-lz/ansetl/internal/aggregate"
	"github.com/assad-lz/ansetl/internal/keys"
	"github.com/assad-lz/ansetl/internal/record"
)

// Page is one page of operators.
type Page struct {
	Items      []record.OperatorRecord `json:"data"`
	Total      int                     `json:"total"`
	Page       int                     `json:"page"`
	Size       int                     `json:"limit"`
	TotalPages int                     `json:"total_pages"`
}

// Statistics summarizes matched expenses.
type Statistics struct {
	TopOperators []record.AggregateRow `json:"top_operators"`
	TopRegions   []record.AggregateRow `json:"top_regions"`
	TotalAmount  decimal.Decimal       `json:"total_amount"`
	Count        int                   `json:"count"`
}

// Operators returns page (1-based) of the registry in file order, keeping
// only operators whose legal name contains nameFilter, ignoring case.
// A page past the end is empty, not an error.
func (s *Snapshot) Operators(page, size int, nameFilter string) (Page, error) {
	if !s.Available() {
		return Page{}, ErrUnavailable
	}
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidPage, page)
	}
	if size < 1 || size > MaxPageSize {
		return Page{}, fmt.Errorf("%w: size must be in 1..%d, got %d", ErrInvalidPage, MaxPageSize, size)
	}

	filter := strings.ToUpper(strings.TrimSpace(nameFilter))
	matches := s.operators
	if filter != "" {
		matches = make([]record.OperatorRecord, 0)
		for i, op := range s.operators {
			if strings.Contains(s.upperNames[i], filter) {
				matches = append(matches, op)
			}
		}
	}

	p := Page{
		Items:      []record.OperatorRecord{},
		Total:      len(matches),
		Page:       page,
		Size:       size,
		TotalPages: (len(matches) + size - 1) / size,
	}
	if page <= p.TotalPages {
		start := (page - 1) * size
		end := min(start+size, len(matches))
		p.Items = slices.Clone(matches[start:end])
	}
	return p, nil
}

// Operator looks an operator up by registry id or tax id. Both forms are
// normalized, so "12.345.678/0001-99" finds tax id "12345678000199".
func (s *Snapshot) Operator(key string) (record.OperatorRecord, error) {
	if !s.Available() {
		return record.OperatorRecord{}, ErrUnavailable
	}
	if i, ok := s.lookup(key); ok {
		return s.operators[i], nil
	}
	return record.OperatorRecord{}, ErrNotFound
}

func (s *Snapshot) lookup(key string) (int, bool) {
	if i, ok := s.byRegistry[keys.RegistryID(key)]; ok {
		return i, true
	}
	if tax := keys.TaxID(key); tax != "" {
		if i, ok := s.byTaxID[tax]; ok {
			return i, true
		}
	}
	return 0, false
}

// Expenses returns the consolidated expenses for an operator, newest period
// first with unknown periods last. key is a registry id or tax id. A registry
// id absent from the registry still resolves when unmatched expenses were
// recorded under it.
func (s *Snapshot) Expenses(key string) ([]record.ExpenseRecord, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	id := keys.RegistryID(key)
	if i, ok := s.lookup(key); ok {
		id = s.operators[i].RegistryID
	} else if _, ok := s.expenses[id]; id == "" || !ok {
		return nil, ErrNotFound
	}

	list := s.expenses[id]
	if list == nil {
		return []record.ExpenseRecord{}, nil
	}
	return slices.Clone(list), nil
}

// Statistics returns the n highest-total operators and regions. n <= 0
// returns every group.
func (s *Snapshot) Statistics(n int) (Statistics, error) {
	if !s.Available() {
		return Statistics{}, ErrUnavailable
	}
	return Statistics{
		TopOperators: aggregate.TopN(s.operatorStats, n),
		TopRegions:   aggregate.TopN(s.regionStats, n),
		TotalAmount:  s.matchedTotal,
		Count:        s.matchedCount,
	}, nil
}
