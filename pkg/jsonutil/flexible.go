// Package jsonutil handles the loosely typed values that flow through content
// maps. Fields arrive from jsonb columns, JSON request bodies, and mirror rows,
// so the same logical value may show up as a string, a number, or a bool.
package jsonutil

import (
	"fmt"
)

// FlexibleString converts a content field value to its string form. Numbers
// and booleans render the way they would in JSON; whole floats drop the
// decimal point since jsonb decoding turns every number into a float64.
// Returns empty string for nil.
func FlexibleString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case float32:
		return FlexibleString(float64(val))
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		// Nested maps and slices have no useful flat form.
		return ""
	}
}
