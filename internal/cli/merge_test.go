package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/harness"
	"github.com/roach88/docsync/internal/testutil"
)

// writeHistory writes ops, described in scenario notation, as a JSON file.
func writeHistory(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	ops, err := harness.ParseHistory(lines)
	require.NoError(t, err)
	data, err := json.Marshal(ops)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestMergeCommand_DivergentTails(t *testing.T) {
	dir := t.TempDir()
	target := writeHistory(t, dir, "target.json",
		"0 0:0", "1 1:0", "2 2:0", "A3 3:0", "A4 4:0", "A5 5:0")
	incoming := writeHistory(t, dir, "incoming.json",
		"0 0:0", "1 1:0", "2 2:0", "B3 3:0@2", "B4 4:2@3", "B5 5:0@4")

	out, err := execute(t, "merge", target, incoming, "--format", "json")
	require.NoError(t, err)

	var scopes []ScopeHistory
	decodeData(t, out, &scopes)
	require.Len(t, scopes, 1)
	assert.Equal(t, "global", scopes[0].Scope)
	assert.Equal(t,
		[]string{"op-0", "op-1", "op-2", "op-A3", "op-B4", "op-A4", "op-B5", "op-A5"},
		testutil.IDs(scopes[0].Operations))
	assert.Equal(t,
		[]string{"0:0", "1:0", "6:4", "7:0", "8:0", "9:0", "10:0", "11:0"},
		testutil.Indexes(scopes[0].Operations))
}

func TestMergeCommand_YAMLInput(t *testing.T) {
	dir := t.TempDir()
	yamlHistory := `
- id: op-a
  index: 0
  skip: 0
  hash: hash-a
  timestampUtcMs: "2024-01-01T00:00:00.000Z"
  action:
    id: action-a
    type: SET_NAME
    scope: global
    input: {name: first}
    timestampUtcMs: "2024-01-01T00:00:00.000Z"
`
	target := filepath.Join(dir, "target.yaml")
	incoming := filepath.Join(dir, "incoming.yaml")
	require.NoError(t, os.WriteFile(target, []byte(yamlHistory), 0o644))
	require.NoError(t, os.WriteFile(incoming, []byte(yamlHistory), 0o644))

	out, err := execute(t, "merge", target, incoming)
	require.NoError(t, err)
	assert.Contains(t, out, "scope global (1 operations)")
	assert.Contains(t, out, "op-a")
	assert.Contains(t, out, "SET_NAME")
}

func TestMergeCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	valid := writeHistory(t, dir, "valid.json", "0 0:0")
	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("{not: [a list"), 0o644))

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing args", []string{"merge", valid}, ExitFailure},
		{"missing file", []string{"merge", valid, filepath.Join(dir, "nope.json")}, ExitCommandError},
		{"unparseable file", []string{"merge", valid, garbage}, ExitCommandError},
		{"unknown reshuffle", []string{"merge", valid, valid, "--reshuffle", "random"}, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestMergeCommand_IntegrityFailure(t *testing.T) {
	dir := t.TempDir()
	target := writeHistory(t, dir, "target.json", "0 0:0", "2 2:0")
	incoming := writeHistory(t, dir, "incoming.json", "0 0:0", "2 2:0")

	out, err := execute(t, "merge", target, incoming, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MERGE_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "MISSING_INDEX")
}
