// Package schema validates action inputs against CUE definitions before they
// enter the operation log.
//
// Only action types with a definition are checked. Inputs of every other
// type are opaque to this module and pass through unchanged.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/docsync/internal/ir"
)

//go:embed relationship.cue
var relationshipSchema string

// definitions maps action types to the CUE definition their input must satisfy.
var definitions = map[string]string{
	ir.ActionAddRelationship:    "#AddRelationshipInput",
	ir.ActionRemoveRelationship: "#RemoveRelationshipInput",
}

// ValidationError reports an input that does not satisfy its definition.
type ValidationError struct {
	ActionType string
	Field      string
	Message    string
	Pos        token.Pos
}

func (e *ValidationError) Error() string {
	field := "input"
	if e.Field != "" {
		field = "input." + e.Field
	}
	return fmt.Sprintf("%s: %s: %s", e.ActionType, field, e.Message)
}

// Validator checks action inputs. A cue.Context is not safe for concurrent
// use, so calls are serialized.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[string]cue.Value
}

// New compiles the embedded definitions.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(relationshipSchema, cue.Filename("relationship.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile relationship schema: %w", err)
	}

	defs := make(map[string]cue.Value, len(definitions))
	for actionType, name := range definitions {
		def := root.LookupPath(cue.ParsePath(name))
		if !def.Exists() {
			return nil, fmt.Errorf("schema definition %s not found", name)
		}
		defs[actionType] = def
	}
	return &Validator{ctx: ctx, defs: defs}, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns a process-wide validator.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = New()
	})
	return defaultValidator, defaultErr
}

// ValidateInput checks raw input JSON for actionType.
func (v *Validator) ValidateInput(actionType string, raw json.RawMessage) error {
	def, ok := v.defs[actionType]
	if !ok {
		return nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.CompileBytes(raw, cue.Filename("input.json"))
	if err := val.Err(); err != nil {
		return &ValidationError{ActionType: actionType, Message: "malformed input: " + err.Error()}
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(actionType, err)
	}
	return nil
}

// ValidateAction checks an action's typed input.
func (v *Validator) ValidateAction(a ir.Action) error {
	if _, ok := v.defs[a.Type]; !ok {
		return nil
	}
	raw, err := ir.MarshalActionInput(a.Input)
	if err != nil {
		return fmt.Errorf("action %s: %w", a.ID, err)
	}
	return v.ValidateInput(a.Type, raw)
}

// ValidateOperations checks every operation's action and stops at the first
// failure.
func (v *Validator) ValidateOperations(ops []ir.OperationWithContext) error {
	for _, op := range ops {
		if err := v.ValidateAction(op.Operation.Action); err != nil {
			return fmt.Errorf("operation %s: %w", op.Operation.ID, err)
		}
	}
	return nil
}

func toValidationError(actionType string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{ActionType: actionType, Message: err.Error()}
	}

	first := errs[0]
	verr := &ValidationError{
		ActionType: actionType,
		Field:      strings.Join(first.Path(), "."),
		Message:    first.Error(),
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		verr.Pos = positions[0]
	}
	return verr
}
