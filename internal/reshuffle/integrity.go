package reshuffle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/ir"
)

// IntegrityIssueCode categorizes a history defect.
type IntegrityIssueCode string

const (
	// IssueMissingIndex means positions between two operations are unaccounted for.
	IssueMissingIndex IntegrityIssueCode = "MISSING_INDEX"

	// IssueDuplicatedIndex means an operation claims a position already taken.
	IssueDuplicatedIndex IntegrityIssueCode = "DUPLICATED_INDEX"
)

// IntegrityIssue describes one defect found by CheckIntegrity.
type IntegrityIssue struct {
	Code      IntegrityIssueCode `json:"category"`
	Operation ir.Operation       `json:"operation"`
	// Expected is the index-minus-skip value the operation should have had.
	Expected int64 `json:"expected"`
}

func (i IntegrityIssue) String() string {
	return fmt.Sprintf("%s at index %d (skip %d, expected %d)", i.Code, i.Operation.Index, i.Operation.Skip, i.Expected)
}

// CheckIntegrity verifies a garbage-collected history.
//
// Each operation must continue exactly where the previous one ended:
// index - skip == previous index + 1, starting from -1. A larger value is a
// missing index, a smaller one a duplicated index.
func CheckIntegrity(cleaned []ir.Operation) []IntegrityIssue {
	var issues []IntegrityIssue
	current := int64(-1)
	for _, op := range cleaned {
		next := op.Index - op.Skip
		switch {
		case next > current+1:
			issues = append(issues, IntegrityIssue{Code: IssueMissingIndex, Operation: op, Expected: current + 1})
		case next < current+1:
			issues = append(issues, IntegrityIssue{Code: IssueDuplicatedIndex, Operation: op, Expected: current + 1})
		}
		current = op.Index
	}
	return issues
}

// CheckOperationsIntegrity sorts and garbage collects ops before checking.
func CheckOperationsIntegrity(ops []ir.Operation) []IntegrityIssue {
	return CheckIntegrity(GarbageCollect(Sort(ops)))
}

// IntegrityError is returned by Merge when its result is not contiguous.
type IntegrityError struct {
	Issues []IntegrityIssue
}

func (e *IntegrityError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "merge integrity: " + strings.Join(parts, "; ")
}

// ScopeError attributes a merge failure to a scope.
type ScopeError struct {
	Scope string
	Err   error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %s: %v", e.Scope, e.Err)
}

func (e *ScopeError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err carries an *IntegrityError.
// Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
