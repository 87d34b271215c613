package schema

import (
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// coerceTree walks a nested map of string leaves (as the marker parser
// produces them) and coerces any leaf whose schema type is "number",
// "integer", or "boolean" into the corresponding Go value, leaving strings
// alone otherwise (spec.md §4.2 "numeric and boolean strings are coerced").
// Coercion is schema-type-directed rather than best-effort sniffing, so a
// string parameter that happens to look numeric is never silently changed.
func coerceTree(v any, sch *jsonschema.Schema) any {
	m, ok := v.(map[string]any)
	if !ok || sch == nil {
		return v
	}
	out := make(map[string]any, len(m))
	for k, leaf := range m {
		propSchema := propertySchema(sch, k)
		if sub, ok := leaf.(map[string]any); ok {
			out[k] = coerceTree(sub, propSchema)
			continue
		}
		out[k] = coerceLeaf(leaf, propSchema)
	}
	return out
}

// propertySchema looks up the sub-schema for property name in sch's
// properties, returning nil when absent (additionalProperties or no schema).
func propertySchema(sch *jsonschema.Schema, name string) *jsonschema.Schema {
	if sch == nil || sch.Properties == nil {
		return nil
	}
	return sch.Properties[name]
}

// coerceLeaf coerces a single string leaf according to the declared schema
// types, defaulting to leaving the value as-is when no type constrains it or
// the string does not parse cleanly (the schema validator then reports the
// resulting type mismatch as a normal validation issue).
func coerceLeaf(v any, sch *jsonschema.Schema) any {
	s, ok := v.(string)
	if !ok || sch == nil || sch.Types == nil {
		return v
	}
	for _, t := range sch.Types.ToStrings() {
		switch t {
		case "integer":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		case "number":
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return n
			}
		case "boolean":
			if b, err := strconv.ParseBool(s); err == nil {
				return b
			}
		}
	}
	return v
}
