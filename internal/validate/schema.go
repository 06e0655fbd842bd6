package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// receiptSchemaJSON is the JSON Schema for the wire shape of a submitted
// receipt, built from the field table in spec §3.1. It intentionally does
// not express the phase-conditional rules; those are cross-field and
// handled by Validator.phaseConditional instead.
const receiptSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "uuid": {"type": "string"},
    "receipt_id": {"type": "string", "minLength": 1},
    "phase": {"type": "string", "enum": ["accepted", "complete", "escalate"]},
    "obligation_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "string"},
    "caused_by_receipt_id": {"type": "string"},
    "created_by": {"type": "string", "minLength": 1},
    "recipient_ai": {"type": "string", "minLength": 1},
    "escalation_to": {"type": "string"},
    "artifact_refs": {"type": "array", "items": {"type": "string"}},
    "body": {}
  },
  "required": ["receipt_id", "phase", "obligation_id", "created_by", "recipient_ai", "body"]
}`

// CompiledSchema wraps a compiled receipt JSON Schema.
type CompiledSchema struct {
	schema *jsonschema.Schema
}

// CompileDefault compiles the built-in receipt schema once at startup.
func CompileDefault() (*CompiledSchema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("receipt.json", bytes.NewReader([]byte(receiptSchemaJSON))); err != nil {
		return nil, fmt.Errorf("adding receipt schema: %w", err)
	}
	sch, err := c.Compile("receipt.json")
	if err != nil {
		return nil, fmt.Errorf("compiling receipt schema: %w", err)
	}
	return &CompiledSchema{schema: sch}, nil
}

// Validate checks v (already json.Unmarshal'd into map[string]any-shaped
// data) against the compiled schema.
func (s *CompiledSchema) Validate(v any) error {
	// jsonschema validates against values produced by encoding/json, so
	// round trip through json.Marshal/Unmarshal so numeric types match what
	// the library expects (json.Number where configured, float64 otherwise).
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.schema.Validate(doc)
}
