package device

import (
	"reflect"
	"testing"
)

func TestCapabilities(t *testing.T) {
	minB, maxB := 0.0, 254.0
	exposes := []Expose{
		{Type: "light", Features: []Expose{
			{Type: "binary", Name: "state", Property: "state", Access: AccessState | AccessSet},
			{Type: "numeric", Name: "brightness", Property: "brightness", ValueMin: &minB, ValueMax: &maxB},
		}},
		{Type: "numeric", Name: "linkquality", Property: "linkquality"},
		{Type: "composite", Property: "color_xy", Features: []Expose{
			{Type: "numeric", Property: "x"},
			{Type: "numeric", Property: "y"},
		}},
		{Type: "enum", Name: "effect"},
		{Type: "numeric", Property: "linkquality"},
	}

	got := Capabilities(exposes)
	want := []string{"brightness", "effect", "light", "linkquality", "state", "x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Capabilities() = %v, want %v", got, want)
	}

	if got := Capabilities(nil); len(got) != 0 {
		t.Errorf("Capabilities(nil) = %v, want empty", got)
	}
}

func TestRecord_DeepCopy(t *testing.T) {
	maxV := 100.0
	orig := &Record{
		ID: "0x1",
		Definition: &Definition{
			Model: "m",
			Exposes: []Expose{{
				Type:     "numeric",
				ValueMax: &maxV,
				Values:   []string{"a"},
				Features: []Expose{{Property: "inner"}},
			}},
		},
	}

	cpy := orig.DeepCopy()
	*cpy.Definition.Exposes[0].ValueMax = 1
	cpy.Definition.Exposes[0].Values[0] = "b"
	cpy.Definition.Exposes[0].Features[0].Property = "changed"
	cpy.Definition.Model = "other"

	e := orig.Definition.Exposes[0]
	if *e.ValueMax != 100 || e.Values[0] != "a" || e.Features[0].Property != "inner" || orig.Definition.Model != "m" {
		t.Errorf("DeepCopy shares memory with original: %+v", orig.Definition)
	}

	var nilRec *Record
	if nilRec.DeepCopy() != nil {
		t.Error("nil DeepCopy() != nil")
	}
	if (&Record{}).Exposes() != nil {
		t.Error("Exposes() without definition should be nil")
	}
}

func TestDeepCopyValue(t *testing.T) {
	orig := map[string]any{
		"list":   []any{map[string]any{"k": "v"}},
		"nested": map[string]any{"n": 1.0},
		"s":      "x",
	}
	cpy := deepCopyMap(orig)
	cpy["list"].([]any)[0].(map[string]any)["k"] = "changed"
	cpy["nested"].(map[string]any)["n"] = 2.0

	if orig["list"].([]any)[0].(map[string]any)["k"] != "v" || orig["nested"].(map[string]any)["n"] != 1.0 {
		t.Errorf("deepCopyMap shares nested values: %v", orig)
	}
	if deepCopyMap(nil) != nil {
		t.Error("deepCopyMap(nil) != nil")
	}
}
