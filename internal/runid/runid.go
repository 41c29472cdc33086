// Package runid hands out pipeline run identifiers and timestamps.
//
// Production code uses UUIDv7 ids, which sort by creation time, and the wall
// clock. Tests swap in Fixed and FixedClock for deterministic artifacts.
package runid

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces run ids.
type Generator interface {
	Generate() string
}

// Clock supplies the run start time.
type Clock interface {
	Now() time.Time
}

// UUIDv7 generates time-sortable UUIDv7 ids. It is stateless and safe for
// concurrent use.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if the random source fails.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Fixed returns predetermined ids in order.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order.
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// Generate returns the next id. Panics once every id has been used, so a test
// that starts more runs than it planned fails loudly.
func (g *Fixed) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("runid.Fixed: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time {
	return time.Time(c)
}
