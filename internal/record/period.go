package record

import (
	"encoding/json"
	"fmt"
)

// Quarter is a reporting quarter, 1 through 4. QuarterUnknown marks a record
// whose period could not be derived.
type Quarter int

// QuarterUnknown is the zero Quarter.
const QuarterUnknown Quarter = 0

// Valid reports whether q is one of 1..4.
func (q Quarter) Valid() bool {
	return q >= 1 && q <= 4
}

// String renders the quarter as "1T".."4T", the regulator's file naming, or
// "unknown".
func (q Quarter) String() string {
	if !q.Valid() {
		return "unknown"
	}
	return fmt.Sprintf("%dT", int(q))
}

// Period identifies a reporting interval.
type Period struct {
	Year    int
	Quarter Quarter
}

// UnknownPeriod is returned when neither the file name nor a date column
// yields a period.
var UnknownPeriod = Period{}

// Known reports whether both year and quarter are set.
func (p Period) Known() bool {
	return p.Year > 0 && p.Quarter.Valid()
}

func (p Period) String() string {
	if !p.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%d-Q%d", p.Year, int(p.Quarter))
}

// Compare orders periods chronologically. Unknown periods sort after every
// known period and compare equal to each other.
func (p Period) Compare(o Period) int {
	pk, ok := p.Known(), o.Known()
	switch {
	case !pk && !ok:
		return 0
	case !pk:
		return 1
	case !ok:
		return -1
	}
	if p.Year != o.Year {
		if p.Year < o.Year {
			return -1
		}
		return 1
	}
	switch {
	case p.Quarter < o.Quarter:
		return -1
	case p.Quarter > o.Quarter:
		return 1
	}
	return 0
}

type periodJSON struct {
	Year    *int   `json:"year"`
	Quarter string `json:"quarter"`
}

// MarshalJSON writes {"year":2025,"quarter":"1T"}, with a null year for
// unknown periods.
func (p Period) MarshalJSON() ([]byte, error) {
	out := periodJSON{Quarter: p.Quarter.String()}
	if p.Known() {
		y := p.Year
		out.Year = &y
	}
	return json.Marshal(out)
}
