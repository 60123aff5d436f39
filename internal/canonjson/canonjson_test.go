package canonjson

import (
	"encoding/json"
	"testing"
)

func TestCanonicalize_SortedKeysNoWhitespace(t *testing.T) {
	v := map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": true, "a": nil},
		"mid":   []any{"x", 2, false},
	}
	got := Canonicalize(v)
	want := `{"alpha":{"a":null,"b":true},"mid":["x",2,false],"zeta":1}`
	if got != want {
		t.Errorf("Canonicalize = %s, want %s", got, want)
	}
}

func TestCanonicalize_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"negative int", -7, "-7"},
		{"float fraction", 0.5, "0.5"},
		{"float integral", float64(3), "3"},
		{"json.Number", json.Number("1e+21"), "1e+21"},
		{"string", "hi", `"hi"`},
		{"string escape", "a\"b\\c\nd", `"a\"b\\c\nd"`},
		{"control char", "a\x01b", `"a\u0001b"`},
		{"unicode passthrough", "ignоre", `"ignоre"`},
		{"empty slice", []any{}, "[]"},
		{"empty map", map[string]any{}, "{}"},
		{"nil slice typed", []string(nil), "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.in); got != tt.want {
				t.Errorf("Canonicalize(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalize_Cycle(t *testing.T) {
	m := map[string]any{"a": 1}
	m["self"] = m
	got := Canonicalize(m)
	want := `{"a":1,"self":"[Circular]"}`
	if got != want {
		t.Errorf("Canonicalize cycle = %s, want %s", got, want)
	}
}

func TestCanonicalize_SharedNonCyclic(t *testing.T) {
	shared := map[string]any{"k": "v"}
	v := map[string]any{"a": shared, "b": shared}
	got := Canonicalize(v)
	want := `{"a":{"k":"v"},"b":{"k":"v"}}`
	if got != want {
		t.Errorf("Canonicalize shared = %s, want %s", got, want)
	}
}

func TestCanonicalize_NonJSONKinds(t *testing.T) {
	v := map[string]any{"fn": func() {}}
	got := Canonicalize(v)
	want := `{"fn":"[func]"}`
	if got != want {
		t.Errorf("Canonicalize func = %s, want %s", got, want)
	}
}

func TestCanonicalize_Idempotence(t *testing.T) {
	inputs := []any{
		map[string]any{"b": []any{1.5, "x", nil}, "a": map[string]any{"z": true}},
		[]any{json.Number("9007199254740993"), "big"},
		map[string]any{"n": -0.125, "s": "line\nbreak", "u": "прив"},
	}
	for _, in := range inputs {
		first := Canonicalize(in)
		parsed, err := Decode([]byte(first))
		if err != nil {
			t.Fatalf("Decode(%s): %v", first, err)
		}
		second := Canonicalize(parsed)
		if first != second {
			t.Errorf("canonicalize not idempotent: %s != %s", first, second)
		}
	}
}

func TestCanonicalize_StructFields(t *testing.T) {
	type inner struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	type outer struct {
		Name    string `json:"name"`
		Skipped string `json:"-"`
		Inner   inner  `json:"inner"`
	}
	got := Canonicalize(outer{Name: "x", Skipped: "drop", Inner: inner{B: 2, A: "y"}})
	want := `{"inner":{"a":"y","b":2},"name":"x"}`
	if got != want {
		t.Errorf("Canonicalize struct = %s, want %s", got, want)
	}
}

func FuzzCanonicalizeIdempotence(f *testing.F) {
	f.Add(`{"a":1,"b":[true,null,"s"]}`)
	f.Add(`[1.25,"ünïcode",{"k":"v"}]`)
	f.Add(`"plain"`)
	f.Fuzz(func(t *testing.T, raw string) {
		parsed, err := Decode([]byte(raw))
		if err != nil {
			t.Skip()
		}
		first := Canonicalize(parsed)
		reparsed, err := Decode([]byte(first))
		if err != nil {
			t.Fatalf("canonical output does not reparse: %q: %v", first, err)
		}
		second := Canonicalize(reparsed)
		if first != second {
			t.Errorf("not idempotent: %q != %q", first, second)
		}
	})
}
