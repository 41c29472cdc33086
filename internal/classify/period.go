package classify

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/assad-lz/ansetl/internal/record"
)

// periodToken matches "1T2025" style tokens not embedded in a longer number.
var periodToken = regexp.MustCompile(`(?i)(?:^|[^0-9])([1-4])[TQ](\d{4})(?:[^0-9]|$)`)

// dateLayouts are tried in order when the period comes from a date column.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	"2006-01-02 15:04:05",
}

// PeriodFromFileName extracts the period from a file name such as
// "1T2025.csv". Only the base name is inspected.
func PeriodFromFileName(name string) (record.Period, bool) {
	m := periodToken.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return record.UnknownPeriod, false
	}
	q, _ := strconv.Atoi(m[1])
	y, _ := strconv.Atoi(m[2])
	return record.Period{Year: y, Quarter: record.Quarter(q)}, true
}

// PeriodFromDate derives the period from a date value.
func PeriodFromDate(raw string) (record.Period, error) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		q := (int(t.Month())-1)/3 + 1
		return record.Period{Year: t.Year(), Quarter: record.Quarter(q)}, nil
	}
	return record.UnknownPeriod, fmt.Errorf("unrecognized date format")
}
