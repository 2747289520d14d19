package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad args"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "inner")), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitFailure, "failed to save", cause)
	assert.Equal(t, "failed to save: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "bad", NewExitError(ExitCommandError, "bad").Error())
}

func TestWriteOutput(t *testing.T) {
	data := map[string]int{"count": 2}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "json", data, func(w io.Writer) {
		t.Fatal("text renderer called for json output")
	}))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"count": float64(2)}, resp.Data)

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "text", data, func(w io.Writer) {
		fmt.Fprintln(w, "count: 2")
	}))
	assert.Equal(t, "count: 2\n", buf.String())
}

func TestWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	writeFailure(&buf, "json", "MERGE_FAILED", "broken", []string{"detail"})

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MERGE_FAILED", resp.Error.Code)
	assert.Equal(t, "broken", resp.Error.Message)

	buf.Reset()
	writeFailure(&buf, "text", "MERGE_FAILED", "broken", nil)
	assert.Equal(t, "Error [MERGE_FAILED]: broken\n", buf.String())
}
