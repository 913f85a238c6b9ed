package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DataType is the tag of a Value and the declared type of a parameter.
type DataType string

const (
	DataTypeString  DataType = "STRING"
	DataTypeNumber  DataType = "NUMBER"
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeObject  DataType = "OBJECT"
	DataTypeArray   DataType = "ARRAY"
	DataTypeDecimal DataType = "DECIMAL"
)

// Valid reports whether t is one of the supported data types.
func (t DataType) Valid() bool {
	switch t {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeObject, DataTypeArray, DataTypeDecimal:
		return true
	default:
		return false
	}
}

func (t DataType) numeric() bool {
	return t == DataTypeNumber || t == DataTypeDecimal
}

// ParseDataType converts a case-insensitive name into a DataType.
func ParseDataType(value string) (DataType, bool) {
	t := DataType(strings.ToUpper(strings.TrimSpace(value)))
	return t, t.Valid()
}

// Value is an immutable tagged union holding one parameter value. The zero
// Value carries no tag and is treated as missing.
type Value struct {
	kind DataType
	str  string
	num  float64
	dec  decimal.Decimal
	b    bool
	obj  map[string]any
	arr  []any
}

func StringValue(s string) Value { return Value{kind: DataTypeString, str: s} }

func NumberValue(f float64) Value { return Value{kind: DataTypeNumber, num: f} }

func DecimalValue(d decimal.Decimal) Value { return Value{kind: DataTypeDecimal, dec: d} }

func BoolValue(b bool) Value { return Value{kind: DataTypeBoolean, b: b} }

// ObjectValue copies m so later mutations by the caller are not observed.
func ObjectValue(m map[string]any) Value {
	if m == nil {
		m = map[string]any{}
	}
	return Value{kind: DataTypeObject, obj: cloneObject(m)}
}

// ArrayValue copies items so later mutations by the caller are not observed.
func ArrayValue(items []any) Value {
	if items == nil {
		items = []any{}
	}
	return Value{kind: DataTypeArray, arr: cloneArray(items)}
}

// Type returns the tag; empty for the zero Value.
func (v Value) Type() DataType { return v.kind }

// IsZero reports whether v carries no value at all.
func (v Value) IsZero() bool { return v.kind == "" }

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == DataTypeString
}

// AsNumber returns the numeric payload of NUMBER and DECIMAL values.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case DataTypeNumber:
		return v.num, true
	case DataTypeDecimal:
		return v.dec.InexactFloat64(), true
	default:
		return 0, false
	}
}

// AsDecimal returns the payload of DECIMAL values and the exact decimal form
// of NUMBER values.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	switch v.kind {
	case DataTypeDecimal:
		return v.dec, true
	case DataTypeNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v.num), true
	default:
		return decimal.Zero, false
	}
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == DataTypeBoolean
}

func (v Value) AsObject() (map[string]any, bool) {
	if v.kind != DataTypeObject {
		return nil, false
	}
	return cloneObject(v.obj), true
}

func (v Value) AsArray() ([]any, bool) {
	if v.kind != DataTypeArray {
		return nil, false
	}
	return cloneArray(v.arr), true
}

// Interface returns the payload as a plain Go value. DECIMAL values are
// returned as decimal.Decimal.
func (v Value) Interface() any {
	switch v.kind {
	case DataTypeString:
		return v.str
	case DataTypeNumber:
		return v.num
	case DataTypeDecimal:
		return v.dec
	case DataTypeBoolean:
		return v.b
	case DataTypeObject:
		return cloneObject(v.obj)
	case DataTypeArray:
		return cloneArray(v.arr)
	default:
		return nil
	}
}

// plain returns the payload with DECIMAL flattened to float64, suitable for
// expression environments.
func (v Value) plain() any {
	if v.kind == DataTypeDecimal {
		return v.dec.InexactFloat64()
	}
	return v.Interface()
}

// String is the string coercion used by PATTERN rules.
func (v Value) String() string {
	switch v.kind {
	case DataTypeString:
		return v.str
	case DataTypeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case DataTypeDecimal:
		return v.dec.String()
	case DataTypeBoolean:
		return strconv.FormatBool(v.b)
	case DataTypeObject, DataTypeArray:
		payload, err := json.Marshal(v.Interface())
		if err != nil {
			return ""
		}
		return string(payload)
	default:
		return ""
	}
}

// Equal compares tag and payload. NUMBER and DECIMAL compare numerically.
func (v Value) Equal(other Value) bool {
	if v.kind.numeric() && other.kind.numeric() {
		a, okA := v.AsDecimal()
		b, okB := other.AsDecimal()
		if !okA || !okB {
			return false
		}
		return a.Equal(b)
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case DataTypeString:
		return v.str == other.str
	case DataTypeBoolean:
		return v.b == other.b
	case DataTypeObject:
		return reflect.DeepEqual(v.obj, other.obj)
	case DataTypeArray:
		return reflect.DeepEqual(v.arr, other.arr)
	default:
		return true
	}
}

// Coerce converts v to target. Same-tag values are returned unchanged; NUMBER
// and DECIMAL convert into each other and STRING parses into DECIMAL.
func (v Value) Coerce(target DataType) (Value, error) {
	if !target.Valid() {
		return Value{}, fmt.Errorf("unknown data type %q", target)
	}
	if v.IsZero() {
		return Value{}, fmt.Errorf("value is required")
	}
	if v.kind == target {
		return v, nil
	}
	switch {
	case target == DataTypeDecimal && v.kind == DataTypeNumber:
		d, ok := v.AsDecimal()
		if !ok {
			return Value{}, fmt.Errorf("cannot convert %s to a decimal", v.String())
		}
		return DecimalValue(d), nil
	case target == DataTypeDecimal && v.kind == DataTypeString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.str))
		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %q to a decimal", v.str)
		}
		return DecimalValue(d), nil
	case target == DataTypeNumber && v.kind == DataTypeDecimal:
		return NumberValue(v.dec.InexactFloat64()), nil
	}
	return Value{}, fmt.Errorf("expected %s value, got %s", target, v.kind)
}

// ValueFrom infers the tag of a decoded JSON or YAML value.
func ValueFrom(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("value is required")
	case Value:
		return typed, nil
	case string:
		return StringValue(typed), nil
	case bool:
		return BoolValue(typed), nil
	case float64:
		return NumberValue(typed), nil
	case float32:
		return NumberValue(float64(typed)), nil
	case int:
		return NumberValue(float64(typed)), nil
	case int32:
		return NumberValue(float64(typed)), nil
	case int64:
		return NumberValue(float64(typed)), nil
	case uint:
		return NumberValue(float64(typed)), nil
	case uint64:
		return NumberValue(float64(typed)), nil
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", typed.String())
		}
		return NumberValue(f), nil
	case decimal.Decimal:
		return DecimalValue(typed), nil
	case map[string]any:
		return ObjectValue(typed), nil
	case []any:
		return ArrayValue(typed), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// ValueOf infers the tag of raw and coerces it to t.
func ValueOf(t DataType, raw any) (Value, error) {
	v, err := ValueFrom(raw)
	if err != nil {
		return Value{}, err
	}
	return v.Coerce(t)
}

// ParseValue parses textual input (CLI flags, query strings) as t.
func ParseValue(t DataType, text string) (Value, error) {
	switch t {
	case DataTypeString:
		return StringValue(text), nil
	case DataTypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", text)
		}
		return NumberValue(f), nil
	case DataTypeDecimal:
		d, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("invalid decimal %q", text)
		}
		return DecimalValue(d), nil
	case DataTypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("invalid boolean %q", text)
		}
		return BoolValue(b), nil
	case DataTypeObject, DataTypeArray:
		var v Value
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return Value{}, fmt.Errorf("invalid %s JSON: %w", strings.ToLower(string(t)), err)
		}
		if v.kind != t {
			return Value{}, fmt.Errorf("expected %s value, got %s", t, v.kind)
		}
		return v, nil
	default:
		return Value{}, fmt.Errorf("unknown data type %q", t)
	}
}

// MarshalJSON encodes the natural JSON form. DECIMAL encodes as an unquoted
// number literal so precision survives the round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case "":
		return []byte("null"), nil
	case DataTypeDecimal:
		return []byte(v.dec.String()), nil
	case DataTypeNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("params: cannot encode %v as JSON", v.num)
		}
		return json.Marshal(v.num)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON infers the tag from the JSON token. Numbers decode as NUMBER;
// callers holding a definition coerce to DECIMAL where needed.
func (v *Value) UnmarshalJSON(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if bytes.Equal(trimmed, []byte("null")) {
		*v = Value{}
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueFrom(normalizeNumbers(raw))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	if v.kind == DataTypeDecimal {
		return v.dec.InexactFloat64(), nil
	}
	return v.Interface(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{}
		return nil
	}
	parsed, err := ValueFrom(normalizeYAML(raw))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func normalizeNumbers(raw any) any {
	switch typed := raw.(type) {
	case json.Number:
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = normalizeNumbers(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = normalizeNumbers(value)
		}
		return out
	default:
		return raw
	}
}

func normalizeYAML(raw any) any {
	switch typed := raw.(type) {
	case int:
		return float64(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = normalizeYAML(value)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[fmt.Sprint(key)] = normalizeYAML(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = normalizeYAML(value)
		}
		return out
	default:
		return raw
	}
}

func cloneObject(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for key, value := range src {
		out[key] = cloneAny(value)
	}
	return out
}

func cloneArray(src []any) []any {
	if src == nil {
		return nil
	}
	out := make([]any, len(src))
	for i, value := range src {
		out[i] = cloneAny(value)
	}
	return out
}

func cloneAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneObject(typed)
	case []any:
		return cloneArray(typed)
	default:
		return value
	}
}
