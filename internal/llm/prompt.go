package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const basePrompt = "You are an assistant that extracts indicators from documents with text and figures into JSON. Output only the extracted JSON."

// Field is one indicator the caller wants extracted.
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ParseFields accepts either [{"name","description"}, ...] (plain strings are
// taken as names) or {"name": "description", ...}. Map order is preserved.
func ParseFields(raw json.RawMessage) ([]Field, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode field list: %w", err)
		}
		fields := make([]Field, 0, len(items))
		for _, item := range items {
			var f Field
			if err := json.Unmarshal(item, &f); err != nil {
				var name string
				if err := json.Unmarshal(item, &name); err != nil {
					return nil, fmt.Errorf("field entry %s: want object or string", item)
				}
				f.Name = name
			}
			f.Name = strings.TrimSpace(f.Name)
			if f.Name != "" {
				fields = append(fields, f)
			}
		}
		return fields, nil
	case '{':
		return parseFieldMap(trimmed)
	default:
		return nil, fmt.Errorf("field specification must be an array or object")
	}
}

// parseFieldMap walks the object token by token so keys keep document order.
func parseFieldMap(raw []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode field map: %w", err)
	}
	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode field map: %w", err)
		}
		name, _ := tok.(string)
		var desc any
		if err := dec.Decode(&desc); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", name, err)
		}
		f := Field{Name: strings.TrimSpace(name)}
		switch v := desc.(type) {
		case string:
			f.Description = v
		case nil:
		default:
			b, _ := json.Marshal(v)
			f.Description = string(b)
		}
		if f.Name != "" {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// BuildPrompt renders the system prompt for fields. Without fields the model
// is asked for whatever structured data it finds.
func BuildPrompt(fields []Field) string {
	if len(fields) == 0 {
		return basePrompt
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nIndicators to extract:\n")
	for i, f := range fields {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, f.Name, f.Description)
	}
	b.WriteString("\nRespond in JSON using the indicator names as keys. If an indicator cannot be extracted from the document, set it to null.")
	return b.String()
}

// FieldNames lists the names in order.
func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
