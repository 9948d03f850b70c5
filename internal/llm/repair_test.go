package llm

import (
	"errors"
	"reflect"
	"testing"

	"github.com/joseph-ayodele/docextract/internal/common"
)

func TestParseJSONWellFormedIsIdempotent(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b": [1, 2, 3], "c": {"d": null}}`,
		`{"note": "commas, inside ,} strings ,]", "n": 2.50}`,
		`[{"x": "y"}, {"x": "\"quoted\", ok"}]`,
	}
	for _, in := range inputs {
		direct, repaired, err := ParseJSON(in)
		if err != nil || repaired {
			t.Fatalf("ParseJSON(%s): repaired=%v err=%v", in, repaired, err)
		}
		viaRepair, err := decodeStrict(RepairJSON(in))
		if err != nil {
			t.Fatalf("repair path failed for %s: %v", in, err)
		}
		if !reflect.DeepEqual(direct, viaRepair) {
			t.Errorf("repair changed value:\n direct %#v\n repair %#v", direct, viaRepair)
		}
	}
}

func TestParseJSONFencedMatchesUnwrapped(t *testing.T) {
	plain := `{"title": "Yield study", "values": [1, 2]}`
	want, _, err := ParseJSON(plain)
	if err != nil {
		t.Fatal(err)
	}
	for _, fenced := range []string{
		"```json\n" + plain + "\n```",
		"```\n" + plain + "\n```",
		"Here is the result:\n```json\n" + plain + "\n```\nLet me know.",
		"```json " + plain + "```",
	} {
		got, repaired, err := ParseJSON(fenced)
		if err != nil {
			t.Fatalf("ParseJSON(%q): %v", fenced, err)
		}
		if !repaired {
			t.Errorf("ParseJSON(%q) should report repair", fenced)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("fenced %q = %#v, want %#v", fenced, got, want)
		}
	}
}

func TestRepairJSONStrayCommas(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1,}`, `{"a": 1}`},
		{`{"a": [1, 2,],}`, `{"a": [1, 2]}`},
		{`{, "a": 1}`, `{ "a": 1}`},
		{`[,1,,2]`, `[1,2]`},
		{"{\"a\": 1,\n}", "{\"a\": 1\n}"},
		{`{"s": "x,}"}`, `{"s": "x,}"}`},
	}
	for _, tt := range tests {
		if got := RepairJSON(tt.in); got != tt.want {
			t.Errorf("RepairJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseJSONUnrepairable(t *testing.T) {
	_, _, err := ParseJSON("the model refused to answer")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, common.ErrResponseFormat) {
		t.Errorf("err = %v, want response format error", err)
	}
}
