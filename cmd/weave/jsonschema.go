package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/schema"
)

// buildJSONSchema renders an entity as a standard JSON Schema document,
// routing it through encoding/json into jsonschema.Schema and resolving
// it so that "schema describe" rejects an entity it could not render as
// valid JSON Schema rather than silently emitting a malformed document.
func buildJSONSchema(e *schema.EntityDef) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(e.FieldOrder))
	var required []string
	for _, name := range e.FieldOrder {
		f := e.Fields[name]
		properties[name] = fieldSchema(f)
		if f.NotNull || f.Primary {
			required = append(required, name)
		}
	}
	for _, r := range e.Relations {
		properties[r.Field] = map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object"},
		}
	}

	raw := map[string]any{
		"type":       "object",
		"title":      e.Name,
		"properties": properties,
	}
	if len(required) > 0 {
		raw["required"] = required
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", e.Name, err)
	}
	var sch jsonschema.Schema
	if err := json.Unmarshal(b, &sch); err != nil {
		return nil, fmt.Errorf("unmarshal into jsonschema.Schema for %s: %w", e.Name, err)
	}
	if _, err := sch.Resolve(&jsonschema.ResolveOptions{}); err != nil {
		return nil, fmt.Errorf("resolve json schema for %s: %w", e.Name, err)
	}
	return &sch, nil
}

func fieldSchema(f *schema.FieldDef) map[string]any {
	switch f.Kind {
	case weave.KindNumber:
		out := map[string]any{"type": "number"}
		if f.Scale != nil {
			out["multipleOf"] = pow10Inverse(*f.Scale)
		}
		return out
	case weave.KindBool:
		return map[string]any{"type": "boolean"}
	case weave.KindDateTime:
		return map[string]any{"type": "string", "format": "date-time"}
	default: // weave.KindString
		out := map[string]any{"type": "string"}
		if f.MaxLen != nil {
			out["maxLength"] = *f.MaxLen
		}
		return out
	}
}

// pow10Inverse returns 10^-scale, the smallest increment a field with the
// given decimal scale can represent, as JSON Schema's multipleOf keyword.
func pow10Inverse(scale int) float64 {
	v := 1.0
	for i := 0; i < scale; i++ {
		v /= 10
	}
	return v
}
