package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/ir"
)

// marshalAction converts an Action to JSON TEXT for storage.
// HTML escaping is disabled so signer payloads keep their bytes.
func marshalAction(a ir.Action) (string, error) {
	data, err := ir.MarshalJSONNoEscape(a)
	if err != nil {
		return "", fmt.Errorf("marshal action: %w", err)
	}
	return string(data), nil
}

// unmarshalAction parses JSON TEXT to an Action, decoding the input variant
// selected by the action type.
func unmarshalAction(data string) (ir.Action, error) {
	var a ir.Action
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return ir.Action{}, fmt.Errorf("unmarshal action: %w", err)
	}
	return a, nil
}

// marshalMetadata converts relationship metadata to JSON TEXT.
// Nil or empty metadata is stored as the empty string.
func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := ir.MarshalJSONNoEscape(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// unmarshalMetadata parses relationship metadata. Numbers decode as
// json.Number so large integers survive the round trip.
func unmarshalMetadata(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// marshalText stores a JSON-encodable value as TEXT.
func marshalText(v any) (string, error) {
	data, err := ir.MarshalJSONNoEscape(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalText parses JSON TEXT into v. Empty text leaves v unchanged.
func unmarshalText(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}
