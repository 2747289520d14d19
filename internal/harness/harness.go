package harness

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
)

// Run merges the scenario's histories and evaluates its expectations and
// assertions. The returned error covers malformed scenarios only; a failed
// expectation is reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	fn, err := reshuffle.ByName(scenario.Reshuffle)
	if err != nil {
		return nil, err
	}
	target, err := ParseHistory(scenario.Target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	incoming, err := ParseHistory(scenario.Incoming)
	if err != nil {
		return nil, fmt.Errorf("incoming: %w", err)
	}

	result := NewResult()
	merged, mergeErr := reshuffle.Merge(target, incoming, fn)
	if mergeErr != nil {
		result.MergeError = mergeErr.Error()
	} else {
		result.Merged = merged
	}

	checkExpect(result, scenario.Expect, mergeErr)
	if mergeErr != nil {
		return result, nil
	}

	mctx := &mergeContext{target: target, incoming: incoming, fn: fn}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, mctx) {
		result.AddError(msg)
	}
	return result, nil
}

func checkExpect(result *Result, expect *Expect, mergeErr error) {
	wantErr := expect != nil && expect.Error != ""
	switch {
	case mergeErr != nil && !wantErr:
		result.AddError(fmt.Sprintf("merge failed: %v", mergeErr))
		return
	case mergeErr == nil && wantErr:
		result.AddError(fmt.Sprintf("merge succeeded, expected %s", expect.Error))
		return
	case mergeErr != nil:
		if !hasIssue(mergeErr, expect.Error) {
			result.AddError(fmt.Sprintf("merge failed with %v, expected %s", mergeErr, expect.Error))
		}
		return
	}
	if expect == nil {
		return
	}
	if expect.IDs != nil && !slices.Equal(expect.IDs, result.IDs()) {
		result.AddError(fmt.Sprintf("ids: expected %v, got %v", expect.IDs, result.IDs()))
	}
	if expect.Indexes != nil && !slices.Equal(expect.Indexes, result.Indexes()) {
		result.AddError(fmt.Sprintf("indexes: expected %v, got %v", expect.Indexes, result.Indexes()))
	}
}

func hasIssue(err error, code string) bool {
	var ierr *reshuffle.IntegrityError
	if !errors.As(err, &ierr) {
		return false
	}
	for _, issue := range ierr.Issues {
		if string(issue.Code) == code {
			return true
		}
	}
	return false
}

func indexes(ops []ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = fmt.Sprintf("%d:%d", op.Index, op.Skip)
	}
	return out
}
