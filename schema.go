package params

import (
	"fmt"
	"sort"
	"strings"
)

// FieldDescriptor describes a path inside a value and its inferred type.
type FieldDescriptor struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// DescribeFields flattens an OBJECT or ARRAY value into dotted paths. Scalar
// values yield a single descriptor with an empty path.
func DescribeFields(v Value) []FieldDescriptor {
	if v.IsZero() {
		return []FieldDescriptor{}
	}
	switch v.Type() {
	case DataTypeObject, DataTypeArray:
		descriptors := deriveFieldDescriptors(v.Interface(), "")
		if descriptors == nil {
			descriptors = []FieldDescriptor{}
		}
		return descriptors
	default:
		return []FieldDescriptor{{Type: strings.ToLower(string(v.Type()))}}
	}
}

func deriveFieldDescriptors(value any, prefix string) []FieldDescriptor {
	if value == nil {
		return nil
	}

	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			return []FieldDescriptor{{
				Path: prefix,
				Type: "object",
			}}
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var fields []FieldDescriptor
		for _, key := range keys {
			fields = append(fields, deriveFieldDescriptors(typed[key], joinPath(prefix, key))...)
		}
		return fields
	case []any:
		elementType := "any"
		if len(typed) > 0 {
			elementType = typeName(typed[0])
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: "[]" + elementType,
		}}
	default:
		return []FieldDescriptor{{
			Path: prefix,
			Type: typeName(typed),
		}}
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}
