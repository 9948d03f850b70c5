package llm

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestParseFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"list", `[{"name": "yield", "description": "crop yield"}, {"name": "site"}]`, []string{"yield", "site"}},
		{"list of strings", `["yield", " site "]`, []string{"yield", "site"}},
		{"map keeps order", `{"zeta": "last letter", "alpha": "first", "mid": "middle"}`, []string{"zeta", "alpha", "mid"}},
		{"null", `null`, nil},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := ParseFields(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("ParseFields: %v", err)
			}
			got := FieldNames(fields)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("names = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFieldsRejectsScalars(t *testing.T) {
	if _, err := ParseFields(json.RawMessage(`42`)); err == nil {
		t.Fatal("expected error for scalar field spec")
	}
}

func TestBuildPrompt(t *testing.T) {
	if got := BuildPrompt(nil); got != basePrompt {
		t.Errorf("empty fields prompt = %q", got)
	}
	p := BuildPrompt([]Field{{Name: "yield", Description: "t/ha"}, {Name: "site"}})
	for _, want := range []string{"1. yield: t/ha", "2. site:", "set it to null"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}
