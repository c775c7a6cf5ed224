package jsonutil

import "testing"

func TestFlexibleString(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "active", "active"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"whole float", float64(42), "42"},
		{"fractional float", 0.85, "0.85"},
		{"negative whole float", float64(-7), "-7"},
		{"int", 3, "3"},
		{"int64", int64(9000), "9000"},
		{"nested map", map[string]any{"a": 1}, ""},
		{"slice", []any{"x"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlexibleString(tt.input); got != tt.want {
				t.Errorf("FlexibleString(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
