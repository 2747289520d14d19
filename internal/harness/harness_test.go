package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := DiscoverScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunDir(t *testing.T) {
	suite, err := RunDir("testdata/scenarios")
	require.NoError(t, err)
	assert.Len(t, suite.Results, 6)
	assert.True(t, suite.Pass())
}

func TestRunDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	scenario := `
name: same
description: "d"
target: ["0 0:0"]
incoming: ["0 0:0"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(scenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(scenario), 0o644))

	_, err := RunDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "same" already used`)
}

func TestDiscoverScenarios_Empty(t *testing.T) {
	_, err := DiscoverScenarios(t.TempDir())
	var notFound *ScenarioNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRun_ReportsWrongExpectation(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong",
		Description: "expects the wrong order",
		Target:      []string{"0 0:0", "A1 1:0@5"},
		Incoming:    []string{"0 0:0", "B1 1:0@1"},
		Expect:      &Expect{IDs: []string{"op-0", "op-A1", "op-B1"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ids: expected")
	assert.Equal(t, []string{"op-0", "op-B1", "op-A1"}, result.IDs())
	assert.Equal(t, []string{"0:0", "2:1", "3:0"}, result.Indexes())
}

func TestRun_UnexpectedMergeError(t *testing.T) {
	scenario := &Scenario{
		Name:        "gap",
		Description: "gap without expectation",
		Target:      []string{"0 0:0", "2 2:0"},
		Incoming:    []string{"0 0:0", "2 2:0"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.MergeError, "MISSING_INDEX")
	assert.Empty(t, result.Merged)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := &Scenario{
		Name:        "clean",
		Description: "expects an error that does not happen",
		Target:      []string{"0 0:0"},
		Incoming:    []string{"0 0:0"},
		Expect:      &Expect{Error: "MISSING_INDEX"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "merge succeeded")
}

func TestAssertions_Failures(t *testing.T) {
	scenario := &Scenario{
		Name:        "dup",
		Description: "duplicate filtering depends on which side is the target",
		Reshuffle:   "timestamp-index",
		Target:      []string{"0 0:0", "X1 1:0"},
		Incoming:    []string{"0 0:0", "Y1 1:0", "X1 2:0"},
		Assertions: []Assertion{
			{Type: AssertCommutative},
			{Type: AssertOrder, IDs: []string{"op-Y1", "op-X1"}},
			{Type: AssertOrder, IDs: []string{"op-0", "op-missing"}},
			{Type: AssertAbsent, IDs: []string{"op-X1"}},
			{Type: AssertContiguous},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.True(t, strings.HasPrefix(result.Errors[0], "Assertion failed: commutative"))
	assert.Contains(t, result.Errors[1], "Expected: op-Y1 < op-X1")
	assert.Contains(t, result.Errors[2], "op-missing in merged history")
	assert.Contains(t, result.Errors[3], "op-X1 absent")
	assert.Contains(t, result.Errors[3], "Merged history:\n  0:0 op-0\n")
}
