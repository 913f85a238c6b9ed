package openapi

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	params "github.com/goliatone/go-params"
)

// Generator renders parameter definitions as an OpenAPI document.
type Generator struct {
	config generatorConfig
}

// NewGenerator constructs an OpenAPI generator.
func NewGenerator(opts ...GeneratorOption) Generator {
	cfg := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return Generator{config: cfg}
}

// Generate builds a document with one component schema and one path per
// definition, ordered by name.
func (g Generator) Generate(defs []params.ParameterDefinition) (map[string]any, error) {
	sorted := make([]params.ParameterDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	registry := newComponentRegistry()
	entries := make([]documentEntry, 0, len(sorted))
	for _, def := range sorted {
		schema, err := g.schemaForDefinition(def)
		if err != nil {
			return nil, fmt.Errorf("openapi: definition %q: %w", def.Name, err)
		}
		entries = append(entries, documentEntry{
			definition: def,
			ref:        registry.register(def.Name, schema),
		})
	}
	return newOpenAPIDocumentBuilder(g.config, registry, entries).build()
}

// Generate renders defs with a generator built from opts.
func Generate(defs []params.ParameterDefinition, opts ...GeneratorOption) (map[string]any, error) {
	return NewGenerator(opts...).Generate(defs)
}

// SchemaFor returns the JSON schema of a single definition.
func SchemaFor(def params.ParameterDefinition) (map[string]any, error) {
	return NewGenerator().schemaForDefinition(def)
}

func (g Generator) schemaForDefinition(def params.ParameterDefinition) (map[string]any, error) {
	schema, err := baseSchema(def)
	if err != nil {
		return nil, err
	}
	if def.Description != "" {
		schema["description"] = def.Description
	}
	redact := g.config.redactConfidential && def.Sensitivity == params.SensitivityConfidential
	if !def.DefaultValue.IsZero() && !redact {
		schema["default"] = def.DefaultValue.Interface()
		if def.DataType == params.DataTypeDecimal {
			schema["default"], _ = def.DefaultValue.AsNumber()
		}
	}
	applyRules(schema, def)
	if def.DataType == params.DataTypeObject || def.DataType == params.DataTypeArray {
		// dotted leaf paths, for clients that cannot walk nested properties
		if fields := params.DescribeFields(def.DefaultValue); len(fields) > 0 {
			schema["x-fields"] = fields
		}
	}

	schema["x-overridable"] = def.Overridable
	if def.Category != "" {
		schema["x-category"] = def.Category
	}
	if def.Sensitivity != "" {
		schema["x-sensitivity"] = string(def.Sensitivity)
	}
	if def.AuditRequired {
		schema["x-audit-required"] = true
	}
	return schema, nil
}

func baseSchema(def params.ParameterDefinition) (map[string]any, error) {
	switch def.DataType {
	case params.DataTypeString:
		return map[string]any{"type": "string"}, nil
	case params.DataTypeNumber:
		return map[string]any{"type": "number"}, nil
	case params.DataTypeDecimal:
		return map[string]any{"type": "number", "format": "decimal"}, nil
	case params.DataTypeBoolean:
		return map[string]any{"type": "boolean"}, nil
	case params.DataTypeObject, params.DataTypeArray:
		// Structure is inferred from the default since definitions carry no
		// nested schema.
		return buildSchema(reflect.ValueOf(def.DefaultValue.Interface()))
	default:
		return nil, fmt.Errorf("unknown data type %q", def.DataType)
	}
}

func applyRules(schema map[string]any, def params.ParameterDefinition) {
	var expressions []map[string]any
	for _, rule := range def.ValidationRules {
		switch rule.Type {
		case params.RuleRange:
			minKey, maxKey := "minimum", "maximum"
			switch def.DataType {
			case params.DataTypeString:
				minKey, maxKey = "minLength", "maxLength"
			case params.DataTypeArray:
				minKey, maxKey = "minItems", "maxItems"
			}
			if rule.Min != nil {
				schema[minKey] = boundFor(minKey, *rule.Min)
			}
			if rule.Max != nil {
				schema[maxKey] = boundFor(maxKey, *rule.Max)
			}
		case params.RulePattern:
			schema["pattern"] = rule.Regex
		case params.RuleEnum:
			schema["enum"] = append([]any{}, rule.Values...)
		case params.RuleExpression:
			entry := map[string]any{"expression": rule.Expression}
			if rule.Engine != "" {
				entry["engine"] = rule.Engine
			}
			expressions = append(expressions, entry)
		}
	}
	if len(expressions) > 0 {
		schema["x-expressions"] = expressions
	}
}

// boundFor renders length and item bounds as integers.
func boundFor(key string, bound float64) any {
	if strings.HasSuffix(key, "Length") || strings.HasSuffix(key, "Items") {
		return int(bound)
	}
	return bound
}

func buildSchema(rv reflect.Value) (map[string]any, error) {
	if !rv.IsValid() {
		return map[string]any{"type": "null"}, nil
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return map[string]any{"type": "null"}, nil
		}
		return buildSchema(rv.Elem())
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Map:
		return schemaForMap(rv)
	case reflect.Slice, reflect.Array:
		return schemaForSlice(rv)
	default:
		return map[string]any{
			"type":   "string",
			"format": fmt.Sprintf("go:%s", rv.Type().String()),
		}, nil
	}
}

func schemaForMap(rv reflect.Value) (map[string]any, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("openapi: map key type %s unsupported", rv.Type().Key())
	}

	keys := rv.MapKeys()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.String())
	}
	sort.Strings(names)

	properties := make(map[string]any, len(names))
	for _, name := range names {
		child, err := buildSchema(rv.MapIndex(reflect.ValueOf(name)))
		if err != nil {
			return nil, err
		}
		properties[name] = child
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func schemaForSlice(rv reflect.Value) (map[string]any, error) {
	itemSchema := map[string]any{}
	if rv.Len() > 0 {
		var err error
		itemSchema, err = buildSchema(rv.Index(0))
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"type":  "array",
		"items": itemSchema,
	}, nil
}
