package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/pipeline"
	"github.com/assad-lz/ansetl/internal/runid"
	"github.com/assad-lz/ansetl/internal/source"
	"github.com/assad-lz/ansetl/internal/store"
)

// ScenarioClock is the fixed time every scenario run starts at.
var ScenarioClock = runid.FixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

const defaultRunID = "scenario-run"

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory and a fresh in-memory
// database. The run id and clock are fixed so results are reproducible.
//
// Execution flow:
// 1. Write the scenario's files
// 2. Run the pipeline over them
// 3. Check the run ended as expected
// 4. Load a successful run into the store
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "ansetl-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := writeFixtures(dir, scenario.Files); err != nil {
		return nil, err
	}

	cfg, err := buildConfig(dir, scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := scenario.RunID
	if runID == "" {
		runID = defaultRunID
	}
	p := pipeline.New(cfg,
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
		pipeline.WithRunIDs(runid.NewFixed(runID)),
		pipeline.WithClock(ScenarioClock),
	)

	ctx := context.Background()
	result := NewResult()
	result.Run, result.RunErr = p.Run(ctx)
	if result.Run != nil {
		relativize(result.Run, dir)
	}

	switch {
	case scenario.ExpectError != "":
		if !matchesErrorKind(result.RunErr, scenario.ExpectError) {
			result.AddError(fmt.Sprintf("expected run to fail with %s, got %v", scenario.ExpectError, result.RunErr))
		}
	case result.RunErr != nil:
		result.AddError(fmt.Sprintf("run failed: %v", result.RunErr))
	default:
		if err := result.Run.Store(ctx, st); err != nil {
			return nil, fmt.Errorf("store run: %w", err)
		}
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func writeFixtures(dir string, files []FileFixture) error {
	for _, f := range files {
		data := []byte(f.Content)
		if source.Encoding(f.Encoding) == source.Latin1 {
			encoded, err := charmap.ISO8859_1.NewEncoder().Bytes(data)
			if err != nil {
				return fmt.Errorf("encode %s as latin-1: %w", f.Name, err)
			}
			data = encoded
		}
		if f.BOM {
			data = append([]byte("\ufeff"), data...)
		}
		path := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", f.Name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}

func buildConfig(dir string, s *Scenario) (pipeline.Config, error) {
	groupBy, err := s.groupBy()
	if err != nil {
		return pipeline.Config{}, err
	}
	cfg := pipeline.Config{
		RegistryPath:     filepath.Join(dir, s.Registry),
		RegistryDialects: source.DefaultDialects,
		Keywords:         s.Keywords,
		GroupBy:          groupBy,
	}
	for _, src := range s.Sources {
		format, err := classify.ParseNumberFormat(src.NumberFormat)
		if err != nil {
			return pipeline.Config{}, err
		}
		cfg.Sources = append(cfg.Sources, pipeline.Source{
			Path:     filepath.Join(dir, src.Path),
			Format:   format,
			Dialects: source.DefaultDialects,
		})
	}
	return cfg, nil
}

// relativize strips the scenario directory from file paths in the summary
// so assertions and golden files can name files as the scenario does.
func relativize(res *pipeline.Result, dir string) {
	for i := range res.Summary.Files {
		if rel, err := filepath.Rel(dir, res.Summary.Files[i].Path); err == nil {
			res.Summary.Files[i].Path = filepath.ToSlash(rel)
		}
	}
}

func matchesErrorKind(err error, kind string) bool {
	switch kind {
	case ErrorNoUsableInput:
		return errors.Is(err, pipeline.ErrNoUsableInput)
	}
	return false
}
