package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/assad-lz/ansetl/internal/artifact"
)

// Snapshot renders a run's consolidated and aggregate CSVs, separated by a
// blank line, for golden comparison.
func Snapshot(result *Result) ([]byte, error) {
	if result.Run == nil {
		return nil, fmt.Errorf("no run to snapshot")
	}
	var buf bytes.Buffer
	if err := artifact.WriteConsolidated(&buf, result.Run.Consolidated); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	if err := artifact.WriteAggregates(&buf, result.Run.GroupBy, result.Run.Aggregates); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its output against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if output doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's output against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	out, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, out)

	return nil
}
