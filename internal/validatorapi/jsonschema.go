package validatorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema wraps a compiled santhosh-tekuri/jsonschema/v6 schema as a
// Validator. Field introspection is derived from the schema's top-level
// "properties"/"required" so the migrator can diff it without re-parsing
// raw JSON Schema documents itself.
type JSONSchema struct {
	schema *jsonschema.Schema
	fields []FieldSpec
}

// CompileJSONSchema compiles a raw JSON Schema document (as produced by
// json.Marshal of a map, or read from a file) into a Validator.
func CompileJSONSchema(url string, raw []byte) (*JSONSchema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("validatorapi: parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("validatorapi: add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validatorapi: compile schema: %w", err)
	}

	return &JSONSchema{schema: sch, fields: deriveFields(doc)}, nil
}

func deriveFields(doc any) []FieldSpec {
	top, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	props, ok := top["properties"].(map[string]any)
	if !ok {
		return nil
	}
	required := map[string]bool{}
	if reqList, ok := top["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	fields := make([]FieldSpec, 0, len(props))
	for name, raw := range props {
		propSchema, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fields = append(fields, FieldSpec{
			Path:     name,
			SQLType:  sqlTypeForSchema(propSchema),
			Nullable: !required[name],
		})
	}
	return fields
}

func sqlTypeForSchema(propSchema map[string]any) SQLType {
	switch t := propSchema["type"]; v := t.(type) {
	case string:
		return sqlTypeForJSONType(v, propSchema)
	case []any:
		for _, elem := range v {
			if s, ok := elem.(string); ok && s != "null" {
				return sqlTypeForJSONType(s, propSchema)
			}
		}
	}
	return TypeText
}

func sqlTypeForJSONType(jsonType string, propSchema map[string]any) SQLType {
	switch jsonType {
	case "integer":
		return TypeInteger
	case "number":
		return TypeReal
	case "boolean":
		return TypeBoolean
	case "array", "object":
		return TypeText
	case "string":
		if format, _ := propSchema["format"].(string); format == "date-time" {
			return TypeText
		}
		return TypeText
	default:
		return TypeText
	}
}

// Parse validates value against the compiled schema. jsonschema/v6 expects
// its instance in "unmarshalled JSON" shape (map[string]any, []any, numbers,
// string, bool, nil). value is passed through unmodified: an inserted
// document is the caller's own map, and one read back through
// internal/codec carries its numbers as json.Number.
func (j *JSONSchema) Parse(_ context.Context, value any) (any, []FieldError, error) {
	if err := j.schema.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if e, ok := err.(*jsonschema.ValidationError); ok {
			verr = e
		}
		if verr == nil {
			return nil, []FieldError{{Message: err.Error()}}, nil
		}
		return nil, flattenValidationError(verr), nil
	}
	return value, nil, nil
}

func flattenValidationError(verr *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		path := joinInstanceLocation(v.InstanceLocation)
		out = append(out, FieldError{Path: path, Message: v.Error()})
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}

func joinInstanceLocation(loc []string) string {
	var buf bytes.Buffer
	for i, seg := range loc {
		if i > 0 {
			buf.WriteByte('.')
		}
		buf.WriteString(seg)
	}
	return buf.String()
}

func (j *JSONSchema) Fields() []FieldSpec { return j.fields }
