package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result for golden comparison: a header naming the
// scenario, then one "index:skip id" line per merged operation.
func Snapshot(scenario *Scenario, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", scenario.Name)
	reshuffler := scenario.Reshuffle
	if reshuffler == "" {
		reshuffler = "default"
	}
	fmt.Fprintf(&buf, "reshuffle: %s\n", reshuffler)
	if result.MergeError != "" {
		fmt.Fprintf(&buf, "error: %s\n", result.MergeError)
		return []byte(buf.String())
	}
	for _, op := range result.Merged {
		fmt.Fprintf(&buf, "%d:%d %s\n", op.Index, op.Skip, op.ID)
	}
	return []byte(buf.String())
}

// RunWithGolden runs the scenario and compares its snapshot with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario, result)
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(scenario, result))
}
