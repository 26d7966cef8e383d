package schema

import (
	"encoding/json"
	"testing"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestConstraints_Evaluate(t *testing.T) {
	c := Constraints{
		MinLength: intPtr(3),
		MaxLength: intPtr(5),
		Pattern:   "^[a-z]+$",
	}

	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"valid", "abcd", nil},
		{"too short", "ab", []string{ConstraintMinLength}},
		{"too long and bad pattern", "ABCDEFG", []string{ConstraintMaxLength, ConstraintPattern}},
		{"non-string skipped", 42.0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Evaluate("name", tt.value)
			if len(got) != len(tt.want) {
				t.Fatalf("Evaluate(%v) returned %d violations, want %d: %v", tt.value, len(got), len(tt.want), got)
			}
			for i, fe := range got {
				if fe.Constraint != tt.want[i] {
					t.Errorf("violation %d = %q, want %q", i, fe.Constraint, tt.want[i])
				}
				if fe.Field != "name" {
					t.Errorf("violation field = %q, want %q", fe.Field, "name")
				}
			}
		})
	}
}

func TestConstraints_EvaluateCountsRunes(t *testing.T) {
	c := Constraints{MinLength: intPtr(3), MaxLength: intPtr(5)}

	if got := c.Evaluate("name", "äöü"); len(got) != 0 {
		t.Errorf("expected no violations, got %v", got)
	}
	if got := c.Evaluate("name", "äöüäöü"); len(got) != 1 || got[0].Constraint != ConstraintMaxLength {
		t.Errorf("expected maxLength violation, got %v", got)
	}
}

func TestConstraints_EvaluateRange(t *testing.T) {
	c := Constraints{Min: floatPtr(0), Max: floatPtr(10)}

	if got := c.Evaluate("qty", 5.0); len(got) != 0 {
		t.Errorf("expected no violations, got %v", got)
	}
	if got := c.Evaluate("qty", -1); len(got) != 1 || got[0].Constraint != ConstraintMin {
		t.Errorf("expected min violation, got %v", got)
	}
	if got := c.Evaluate("qty", int64(11)); len(got) != 1 || got[0].Constraint != ConstraintMax {
		t.Errorf("expected max violation, got %v", got)
	}
}

func TestAsFloat(t *testing.T) {
	for _, v := range []any{1, int64(2), int32(3), 4.5, float32(5)} {
		if _, ok := AsFloat(v); !ok {
			t.Errorf("AsFloat(%T) should succeed", v)
		}
	}
	if _, ok := AsFloat("1"); ok {
		t.Error("AsFloat should not accept strings")
	}
}

func TestConstraints_JSONUsesManifestKeys(t *testing.T) {
	data, err := json.Marshal(Constraints{MinLength: intPtr(1), Min: floatPtr(0), Max: floatPtr(5)})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"minLength":1,"min":0,"max":5}`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}
}
