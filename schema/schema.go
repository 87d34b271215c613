// Package schema implements the parameter decoder: given the nested
// parameters map the marker parser assembled from pointer paths, validate it
// against a gadget's input schema and coerce numeric/boolean leaves
// (spec.md §4.2). The core never requires JSON Schema specifically; callers
// may supply any type implementing Validator.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/relayforge/gadgetloop/gadgeterr"
)

// Validator is the opaque validation capability spec.md §1 requires: the
// core depends only on this interface, never on a concrete schema engine.
type Validator interface {
	// Validate coerces and checks raw against the schema, returning the
	// coerced value on success or a *gadgeterr.Error (KindValidation) on
	// failure.
	Validate(raw map[string]any) (map[string]any, error)
}

// JSONSchema wraps a compiled JSON Schema document, grounded on goa-ai's
// registry service compiling payload schemas with jsonschema/v6.
type JSONSchema struct {
	compiled *jsonschema.Schema
}

// Compile parses and compiles a JSON Schema document (as raw JSON bytes)
// into a Validator.
func Compile(schemaJSON []byte) (*JSONSchema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("schema: unmarshal schema document: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &JSONSchema{compiled: compiled}, nil
}

// Validate implements Validator. raw leaves are strings (the marker parser
// never decodes scalars); Validate coerces string leaves whose schema type is
// integer, number or boolean before checking them against the schema, then
// returns the coerced tree.
func (s *JSONSchema) Validate(raw map[string]any) (map[string]any, error) {
	coerced := coerceTree(raw, s.compiled)
	if err := s.compiled.Validate(coerced); err != nil {
		return nil, gadgeterr.Validation("schema validation failed", issuesFrom(err))
	}
	m, ok := coerced.(map[string]any)
	if !ok {
		return nil, gadgeterr.Validation("schema validation failed: root is not an object", nil)
	}
	return m, nil
}

// issuesFrom flattens a jsonschema validation error into the Issue list
// gadgeterr.Validation carries, keyed by JSON pointer path.
func issuesFrom(err error) []gadgeterr.Issue {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []gadgeterr.Issue{{Path: "", Message: err.Error()}}
	}
	var issues []gadgeterr.Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, gadgeterr.Issue{
				Path:    e.InstanceLocation,
				Message: e.Error(),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return issues
}
