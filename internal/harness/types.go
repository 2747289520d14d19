package harness

import "github.com/roach88/docsync/internal/ir"

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Merged is the merged history; empty when the merge failed.
	Merged []ir.Operation `json:"merged"`

	// MergeError is the merge failure, if any.
	MergeError string `json:"merge_error,omitempty"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Merged: []ir.Operation{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// IDs returns the operation ids of the merged history.
func (r *Result) IDs() []string {
	out := make([]string, len(r.Merged))
	for i, op := range r.Merged {
		out[i] = op.ID
	}
	return out
}

// Indexes returns "index:skip" for each merged operation.
func (r *Result) Indexes() []string {
	return indexes(r.Merged)
}
