package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action types with a typed input. Any other type decodes to OpaqueInput.
const (
	ActionAddRelationship    = "ADD_RELATIONSHIP"
	ActionRemoveRelationship = "REMOVE_RELATIONSHIP"
)

// ActionInput is the tagged union of action payloads, keyed by Action.Type.
//
// Implementations: AddRelationshipInput, RemoveRelationshipInput, OpaqueInput.
type ActionInput interface {
	actionType() string
}

// AddRelationshipInput creates a directed edge between two documents.
type AddRelationshipInput struct {
	SourceID         string         `json:"sourceId"`
	TargetID         string         `json:"targetId"`
	RelationshipType string         `json:"relationshipType"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

func (AddRelationshipInput) actionType() string { return ActionAddRelationship }

// RemoveRelationshipInput deletes a directed edge.
type RemoveRelationshipInput struct {
	SourceID         string `json:"sourceId"`
	TargetID         string `json:"targetId"`
	RelationshipType string `json:"relationshipType"`
}

func (RemoveRelationshipInput) actionType() string { return ActionRemoveRelationship }

// OpaqueInput carries the input of any action type docsync does not
// interpret. Storage keeps the bytes as given; inside a larger document such
// as a sync envelope they are compacted, which leaves their meaning and the
// canonical operation hash unchanged.
type OpaqueInput struct {
	Type string
	Raw  json.RawMessage
}

func (o OpaqueInput) actionType() string { return o.Type }

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// actionWire is the JSON shape of an Action.
type actionWire struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Scope          string          `json:"scope"`
	Input          json.RawMessage `json:"input"`
	TimestampUtcMs string          `json:"timestampUtcMs"`
	Context        *ActionContext  `json:"context,omitempty"`
}

// MarshalJSON encodes the input variant under "input". A nil input encodes
// as an empty object. Opaque input bytes are spliced in unchanged; an outer
// encoding/json encoder compacts them again, which MarshalJSONNoEscape
// avoids for a top-level Action.
func (a Action) MarshalJSON() ([]byte, error) {
	input, err := MarshalActionInput(a.Input)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", a.ID, err)
	}
	if !json.Valid(input) {
		return nil, fmt.Errorf("action %s: input is not valid JSON", a.ID)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range []struct {
		name  string
		value string
	}{{"id", a.ID}, {"type", a.Type}, {"scope", a.Scope}} {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeField(&buf, f.name, f.value); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`,"input":`)
	buf.Write(input)
	buf.WriteByte(',')
	if err := writeField(&buf, "timestampUtcMs", a.TimestampUtcMs); err != nil {
		return nil, err
	}
	if a.Context != nil {
		ctx, err := a.Context.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", a.ID, err)
		}
		buf.WriteString(`,"context":`)
		buf.Write(ctx)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, name string, value any) error {
	b, err := encodeNoEscape(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString(`":`)
	buf.Write(b)
	return nil
}

// MarshalJSON writes the signer as a JSON string holding its exact bytes.
// A nested raw value would be compacted by encoding/json; a string is not.
func (c ActionContext) MarshalJSON() ([]byte, error) {
	if len(c.Signer) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeField(&buf, "signer", string(c.Signer)); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the signer as a string (the form MarshalJSON
// writes) or as an inline JSON value, kept as the bytes that arrived.
func (c *ActionContext) UnmarshalJSON(data []byte) error {
	var w struct {
		Signer json.RawMessage `json:"signer"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Signer = nil
	switch {
	case len(w.Signer) == 0 || string(w.Signer) == "null":
	case w.Signer[0] == '"':
		var s string
		if err := json.Unmarshal(w.Signer, &s); err != nil {
			return fmt.Errorf("decode signer: %w", err)
		}
		c.Signer = json.RawMessage(s)
	default:
		c.Signer = append(json.RawMessage(nil), w.Signer...)
	}
	return nil
}

// UnmarshalJSON decodes the input variant selected by "type".
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	input, err := DecodeActionInput(w.Type, w.Input)
	if err != nil {
		return fmt.Errorf("action %s: %w", w.ID, err)
	}
	*a = Action{
		ID:             w.ID,
		Type:           w.Type,
		Scope:          w.Scope,
		Input:          input,
		TimestampUtcMs: w.TimestampUtcMs,
		Context:        w.Context,
	}
	return nil
}

// MarshalActionInput returns the JSON form of an input variant.
func MarshalActionInput(in ActionInput) (json.RawMessage, error) {
	switch v := in.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case OpaqueInput:
		if len(v.Raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return v.Raw, nil
	case *OpaqueInput:
		return MarshalActionInput(*v)
	default:
		b, err := encodeNoEscape(v)
		if err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
		return b, nil
	}
}

// DecodeActionInput decodes raw input for the given action type.
//
// Relationship inputs are structurally checked here; CUE schema validation
// happens at the ingest boundary (see package schema).
func DecodeActionInput(actionType string, raw json.RawMessage) (ActionInput, error) {
	switch actionType {
	case ActionAddRelationship:
		var in AddRelationshipInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode %s input: %w", actionType, err)
		}
		if errs := validateEdge(in.SourceID, in.TargetID, in.RelationshipType); len(errs) > 0 {
			return nil, errs[0]
		}
		return in, nil
	case ActionRemoveRelationship:
		var in RemoveRelationshipInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode %s input: %w", actionType, err)
		}
		if errs := validateEdge(in.SourceID, in.TargetID, in.RelationshipType); len(errs) > 0 {
			return nil, errs[0]
		}
		return in, nil
	default:
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return OpaqueInput{Type: actionType, Raw: cp}, nil
	}
}

func validateEdge(source, target, relType string) []ValidationError {
	var errs []ValidationError
	if source == "" {
		errs = append(errs, ValidationError{Field: "input.sourceId", Message: "is required"})
	}
	if target == "" {
		errs = append(errs, ValidationError{Field: "input.targetId", Message: "is required"})
	}
	if relType == "" {
		errs = append(errs, ValidationError{Field: "input.relationshipType", Message: "is required"})
	}
	return errs
}

// encodeNoEscape marshals v without HTML escaping so raw payloads such as
// signer blobs keep their bytes.
func encodeNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalJSONNoEscape is the encoder used on the wire and in storage. A
// top-level Action is encoded by its own MarshalJSON so opaque input bytes
// are not compacted.
func MarshalJSONNoEscape(v any) ([]byte, error) {
	switch a := v.(type) {
	case Action:
		return a.MarshalJSON()
	case *Action:
		if a != nil {
			return a.MarshalJSON()
		}
	}
	return encodeNoEscape(v)
}
