package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/assad-lz/ansetl/internal/record"
)

// Set is everything a run writes to its output directory.
type Set struct {
	Consolidated []record.ExpenseRecord
	GroupBy      record.FieldSet
	Aggregates   []record.AggregateRow
	Summary      any
	Compress     bool
}

// WriteDir writes the set into dir, creating it when needed. Existing
// artifacts are overwritten.
func WriteDir(dir string, s Set) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output dir: %w", err)
	}

	p := Paths{
		Consolidated: filepath.Join(dir, ConsolidatedFile),
		Aggregates:   filepath.Join(dir, AggregatesFile),
		Summary:      filepath.Join(dir, SummaryFile),
	}

	if err := writeFile(p.Consolidated, func(f *os.File) error {
		return WriteConsolidated(f, s.Consolidated)
	}); err != nil {
		return Paths{}, err
	}
	if err := writeFile(p.Aggregates, func(f *os.File) error {
		return WriteAggregates(f, s.GroupBy, s.Aggregates)
	}); err != nil {
		return Paths{}, err
	}
	if s.Compress {
		p.Archive = filepath.Join(dir, ArchiveFile)
		if err := Archive(p.Archive, p.Consolidated); err != nil {
			return Paths{}, err
		}
	}
	if err := writeFile(p.Summary, func(f *os.File) error {
		return WriteJSON(f, s.Summary)
	}); err != nil {
		return Paths{}, err
	}
	return p, nil
}

func writeFile(path string, fn func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
