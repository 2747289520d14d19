package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
)

// AssertionError is a failed assertion with the merged history for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Merged   []ir.Operation
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nMerged history:\n")
	for _, op := range e.Merged {
		fmt.Fprintf(&buf, "  %d:%d %s\n", op.Index, op.Skip, op.ID)
	}
	return buf.String()
}

// mergeContext holds the inputs of the merge under test, for assertions
// that merge again.
type mergeContext struct {
	target   []ir.Operation
	incoming []ir.Operation
	fn       reshuffle.Reshuffler
}

func assertCommutative(result *Result, mctx *mergeContext) error {
	swapped, err := reshuffle.Merge(mctx.incoming, mctx.target, mctx.fn)
	if err != nil {
		return fmt.Errorf("commutative: swapped merge failed: %w", err)
	}
	if sameHistory(result.Merged, swapped) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCommutative,
		Expected: render(result.Merged),
		Actual:   render(swapped),
		Merged:   result.Merged,
	}
}

func assertIdempotent(result *Result, mctx *mergeContext) error {
	again, err := reshuffle.Merge(result.Merged, result.Merged, mctx.fn)
	if err != nil {
		return fmt.Errorf("idempotent: remerge failed: %w", err)
	}
	if sameHistory(result.Merged, again) {
		return nil
	}
	return &AssertionError{
		Type:     AssertIdempotent,
		Expected: render(result.Merged),
		Actual:   render(again),
		Merged:   result.Merged,
	}
}

func assertContiguous(result *Result) error {
	issues := reshuffle.CheckIntegrity(result.Merged)
	if len(issues) == 0 {
		return nil
	}
	found := make([]string, len(issues))
	for i, issue := range issues {
		found[i] = issue.String()
	}
	return &AssertionError{
		Type:     AssertContiguous,
		Expected: "no integrity issues",
		Actual:   strings.Join(found, "; "),
		Merged:   result.Merged,
	}
}

// assertOrder checks that the ids appear in the given relative order.
func assertOrder(result *Result, assertion Assertion) error {
	ids := result.IDs()
	last := -1
	for _, id := range assertion.IDs {
		pos := slices.Index(ids, id)
		if pos < 0 {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("%s in merged history", id),
				Actual:   "not found",
				Merged:   result.Merged,
			}
		}
		if pos <= last {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: strings.Join(assertion.IDs, " < "),
				Actual:   strings.Join(ids, ", "),
				Merged:   result.Merged,
			}
		}
		last = pos
	}
	return nil
}

func assertAbsent(result *Result, assertion Assertion) error {
	ids := result.IDs()
	for _, id := range assertion.IDs {
		if slices.Contains(ids, id) {
			return &AssertionError{
				Type:     AssertAbsent,
				Expected: fmt.Sprintf("%s absent", id),
				Actual:   "present",
				Merged:   result.Merged,
			}
		}
	}
	return nil
}

// EvaluateAssertions returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, mctx *mergeContext) []string {
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertCommutative:
			err = assertCommutative(result, mctx)
		case AssertIdempotent:
			err = assertIdempotent(result, mctx)
		case AssertContiguous:
			err = assertContiguous(result)
		case AssertOrder:
			err = assertOrder(result, assertion)
		case AssertAbsent:
			err = assertAbsent(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func sameHistory(a, b []ir.Operation) bool {
	return slices.EqualFunc(a, b, func(x, y ir.Operation) bool {
		return x.ID == y.ID && reshuffle.Equal(x, y)
	})
}

func render(ops []ir.Operation) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = fmt.Sprintf("%d:%d %s", op.Index, op.Skip, op.ID)
	}
	return strings.Join(parts, ", ")
}
