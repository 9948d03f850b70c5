package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldSchema returns a JSON Schema for an extraction result: an object that
// carries every requested field. Null is allowed for values the document does
// not contain.
func FieldSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		prop := map[string]any{}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// CompileSchema compiles a schema map under the given resource name.
func CompileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateAgainstFields checks data against FieldSchema(fields) and returns
// one message per violation. It also lists fields that are absent or null.
func ValidateAgainstFields(data any, fields []Field) (violations, unfilled []string, err error) {
	if len(fields) == 0 {
		return nil, nil, nil
	}
	schema, err := CompileSchema("fields.json", FieldSchema(fields))
	if err != nil {
		return nil, nil, err
	}

	if verr := schema.Validate(normalize(data)); verr != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(verr, &ve) {
			return nil, nil, verr
		}
		for _, e := range ve.BasicOutput().Errors {
			// the root entry only summarises its causes
			if e.KeywordLocation == "" {
				continue
			}
			violations = append(violations, fmt.Sprintf("%s: %s", orRoot(e.InstanceLocation), e.Error))
		}
		if len(violations) == 0 {
			violations = append(violations, ve.Error())
		}
		sort.Strings(violations)
	}

	obj, _ := data.(map[string]any)
	for _, f := range fields {
		if v, ok := obj[f.Name]; !ok || v == nil {
			unfilled = append(unfilled, f.Name)
		}
	}
	return violations, unfilled, nil
}

// normalize round-trips through encoding/json so json.Number values become
// the float64 values the validator understands.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func orRoot(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}
