package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// taggedPrefix marks a string property holding a JSON-serialized structured
// value. Values that are not primitive scalars or homogeneous primitive
// lists are stored as tagged strings so a read (or a re-import) can
// reconstruct the original structure instead of seeing an opaque string.
const taggedPrefix = "\x00json\x00"

func isPrimitive(v any) bool {
	return primitiveClass(v) != ""
}

// primitiveClass buckets scalar types the way the Bolt type system does:
// list properties must hold one class throughout.
func primitiveClass(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	}
	return ""
}

// isPrimitiveList accepts only homogeneous primitive lists; a list mixing
// classes (or holding any non-primitive) must be serialized instead, since
// the database rejects heterogeneous list properties at write time.
func isPrimitiveList(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	var class string
	for i := 0; i < rv.Len(); i++ {
		c := primitiveClass(rv.Index(i).Interface())
		if c == "" {
			return false
		}
		if class == "" {
			class = c
		} else if c != class {
			return false
		}
	}
	return true
}

// encodeProperty prepares a property value for storage. Primitives and
// homogeneous primitive lists pass through ([]float32 widened to []float64
// for the Bolt type system); anything else becomes a tagged JSON string.
// A value that cannot be marshaled degrades to a plain string placeholder.
func encodeProperty(v any) (any, error) {
	if v == nil || isPrimitive(v) {
		return v, nil
	}
	if vs, ok := v.([]float32); ok {
		out := make([]float64, len(vs))
		for i, f := range vs {
			out[i] = float64(f)
		}
		return out, nil
	}
	if isPrimitiveList(v) {
		return v, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v), fmt.Errorf("failed to serialize property: %w", err)
	}
	return taggedPrefix + string(data), nil
}

// decodeProperty reverses encodeProperty. Untagged values pass through; a
// tagged string that fails to parse is returned as-is minus the tag.
func decodeProperty(v any) any {
	s, ok := v.(string)
	if !ok || len(s) < len(taggedPrefix) || s[:len(taggedPrefix)] != taggedPrefix {
		return v
	}

	var out any
	if err := json.Unmarshal([]byte(s[len(taggedPrefix):]), &out); err != nil {
		return s[len(taggedPrefix):]
	}
	return out
}

func decodeProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = decodeProperty(v)
	}
	return out
}
