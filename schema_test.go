package params

import "testing"

func TestDescribeFieldsFlattensObjects(t *testing.T) {
	value := ObjectValue(map[string]any{
		"limits": map[string]any{"daily": 100.0, "monthly": 500.0},
		"tags":   []any{"a", "b"},
		"active": true,
		"meta":   map[string]any{},
	})

	fields := DescribeFields(value)
	want := []FieldDescriptor{
		{Path: "active", Type: "boolean"},
		{Path: "limits.daily", Type: "number"},
		{Path: "limits.monthly", Type: "number"},
		{Path: "meta", Type: "object"},
		{Path: "tags", Type: "[]string"},
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %+v", len(want), fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("field %d: expected %+v, got %+v", i, want[i], fields[i])
		}
	}
}

func TestDescribeFieldsScalar(t *testing.T) {
	fields := DescribeFields(StringValue("USD"))
	if len(fields) != 1 || fields[0].Path != "" || fields[0].Type != "string" {
		t.Fatalf("unexpected descriptors %+v", fields)
	}
	if len(DescribeFields(Value{})) != 0 {
		t.Fatalf("expected no descriptors for zero value")
	}
}
