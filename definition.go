package params

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleType identifies the kind of a ValidationRule.
type RuleType string

const (
	RuleRange      RuleType = "RANGE"
	RulePattern    RuleType = "PATTERN"
	RuleEnum       RuleType = "ENUM"
	RuleExpression RuleType = "EXPRESSION"
)

// ValidationRule is one constraint of a definition. Only the fields relevant
// to Type are read.
type ValidationRule struct {
	Type       RuleType `json:"type" yaml:"type"`
	Min        *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max        *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Regex      string   `json:"regex,omitempty" yaml:"regex,omitempty"`
	Values     []any    `json:"values,omitempty" yaml:"values,omitempty"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Engine     string   `json:"engine,omitempty" yaml:"engine,omitempty"`
	// Message replaces the generated failure message when set.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Range builds a RANGE rule with both bounds.
func Range(min, max float64) ValidationRule {
	return ValidationRule{Type: RuleRange, Min: &min, Max: &max}
}

// Min builds a RANGE rule with only a lower bound.
func Min(min float64) ValidationRule {
	return ValidationRule{Type: RuleRange, Min: &min}
}

// Max builds a RANGE rule with only an upper bound.
func Max(max float64) ValidationRule {
	return ValidationRule{Type: RuleRange, Max: &max}
}

func Pattern(regex string) ValidationRule {
	return ValidationRule{Type: RulePattern, Regex: regex}
}

func Enum(values ...any) ValidationRule {
	return ValidationRule{Type: RuleEnum, Values: values}
}

// Expression builds an EXPRESSION rule. engine may be "", "expr", "cel" or "js".
func Expression(expression, engine string) ValidationRule {
	return ValidationRule{Type: RuleExpression, Expression: expression, Engine: engine}
}

// ValidationResult is the structured outcome of Validate. Errors holds at
// most the message of the first failing check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func validResult() ValidationResult { return ValidationResult{Valid: true} }

func invalidResult(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf(format, args...)}}
}

// Sensitivity classifies how a parameter may be displayed or exported.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "PUBLIC"
	SensitivityInternal     Sensitivity = "INTERNAL"
	SensitivityConfidential Sensitivity = "CONFIDENTIAL"
)

// ParameterDefinition describes the contract of a parameter, not a value.
type ParameterDefinition struct {
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	DataType        DataType         `json:"data_type" yaml:"data_type"`
	DefaultValue    Value            `json:"default_value" yaml:"default_value"`
	ValidationRules []ValidationRule `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	Overridable     bool             `json:"overridable" yaml:"overridable"`
	Category        string           `json:"category,omitempty" yaml:"category,omitempty"`
	Sensitivity     Sensitivity      `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	AuditRequired   bool             `json:"audit_required" yaml:"audit_required"`
	CreatedAt       time.Time        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// DefinitionOption configures NewDefinition.
type DefinitionOption func(*ParameterDefinition)

func WithDescription(description string) DefinitionOption {
	return func(def *ParameterDefinition) { def.Description = description }
}

func WithRules(rules ...ValidationRule) DefinitionOption {
	return func(def *ParameterDefinition) {
		def.ValidationRules = append(def.ValidationRules, rules...)
	}
}

func WithCategory(category string) DefinitionOption {
	return func(def *ParameterDefinition) { def.Category = category }
}

func WithSensitivity(sensitivity Sensitivity) DefinitionOption {
	return func(def *ParameterDefinition) { def.Sensitivity = sensitivity }
}

func WithAuditRequired(required bool) DefinitionOption {
	return func(def *ParameterDefinition) { def.AuditRequired = required }
}

// NotOverridable prevents overrides from being written for the parameter.
func NotOverridable() DefinitionOption {
	return func(def *ParameterDefinition) { def.Overridable = false }
}

// NewDefinition builds an overridable definition. The default is coerced to
// dataType when the conversion is lossless (NUMBER into DECIMAL and similar).
func NewDefinition(name string, dataType DataType, defaultValue Value, opts ...DefinitionOption) ParameterDefinition {
	if coerced, err := defaultValue.Coerce(dataType); err == nil {
		defaultValue = coerced
	}
	def := ParameterDefinition{
		Name:         name,
		DataType:     dataType,
		DefaultValue: defaultValue,
		Overridable:  true,
		Sensitivity:  SensitivityInternal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&def)
		}
	}
	return def
}

// Validate runs the two-phase check with the default Validator.
func (d ParameterDefinition) Validate(value Value) ValidationResult {
	return DefaultValidator().Validate(d, value)
}

// Clone returns a copy whose rules slice is detached from d.
func (d ParameterDefinition) Clone() ParameterDefinition {
	out := d
	if d.ValidationRules != nil {
		out.ValidationRules = make([]ValidationRule, len(d.ValidationRules))
		for i, rule := range d.ValidationRules {
			out.ValidationRules[i] = rule
			if rule.Values != nil {
				out.ValidationRules[i].Values = cloneArray(rule.Values)
			}
		}
	}
	return out
}

type definitionAlias ParameterDefinition

// UnmarshalJSON defaults Overridable to true and coerces the default value to
// the declared data type.
func (d *ParameterDefinition) UnmarshalJSON(payload []byte) error {
	alias := definitionAlias{Overridable: true}
	if err := json.Unmarshal(payload, &alias); err != nil {
		return err
	}
	return d.assign(alias)
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML seed files.
func (d *ParameterDefinition) UnmarshalYAML(node *yaml.Node) error {
	alias := definitionAlias{Overridable: true}
	if err := node.Decode(&alias); err != nil {
		return err
	}
	return d.assign(alias)
}

func (d *ParameterDefinition) assign(alias definitionAlias) error {
	if normalized, ok := ParseDataType(string(alias.DataType)); ok {
		alias.DataType = normalized
	}
	if !alias.DefaultValue.IsZero() && alias.DataType.Valid() {
		coerced, err := alias.DefaultValue.Coerce(alias.DataType)
		if err != nil {
			return fmt.Errorf("params: definition %q default: %w", alias.Name, err)
		}
		alias.DefaultValue = coerced
	}
	for i := range alias.ValidationRules {
		alias.ValidationRules[i].Type = RuleType(strings.ToUpper(string(alias.ValidationRules[i].Type)))
	}
	*d = ParameterDefinition(alias)
	return nil
}

// RecordState tracks where a persisted override sits in its lifecycle.
type RecordState string

const (
	StateActive     RecordState = "ACTIVE"
	StateSuperseded RecordState = "SUPERSEDED"
	StateDeleted    RecordState = "DELETED"
)

// ParameterValue is an override recorded at one hierarchy level, or a
// synthesized default when Overridden is false.
type ParameterValue struct {
	ID             string      `json:"id"`
	EntityType     EntityType  `json:"entity_type"`
	EntityID       string      `json:"entity_id"`
	ParameterName  string      `json:"parameter_name"`
	Value          Value       `json:"value"`
	EffectiveDate  time.Time   `json:"effective_date"`
	ExpirationDate *time.Time  `json:"expiration_date,omitempty"`
	Overridden     bool        `json:"overridden"`
	Version        int         `json:"version"`
	State          RecordState `json:"state,omitempty"`
	CreatedBy      string      `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsActive reports whether the value participates in resolution at now.
func (v ParameterValue) IsActive(now time.Time) bool {
	if v.State != "" && v.State != StateActive {
		return false
	}
	if v.EffectiveDate.After(now) {
		return false
	}
	if v.ExpirationDate != nil && !now.Before(*v.ExpirationDate) {
		return false
	}
	return true
}

// Level returns the hierarchy level the value was recorded at.
func (v ParameterValue) Level() ChainLevel {
	return ChainLevel{EntityType: v.EntityType, EntityID: v.EntityID}
}

// Clone returns a copy with a detached expiration pointer.
func (v ParameterValue) Clone() ParameterValue {
	out := v
	if v.ExpirationDate != nil {
		exp := *v.ExpirationDate
		out.ExpirationDate = &exp
	}
	return out
}

// DefaultParameterValue synthesizes the never-persisted value used when no
// level holds an active override.
func DefaultParameterValue(def ParameterDefinition) ParameterValue {
	return ParameterValue{
		EntityType:    EntityDefault,
		EntityID:      DefaultEntityID,
		ParameterName: def.Name,
		Value:         def.DefaultValue,
		EffectiveDate: time.Unix(0, 0).UTC(),
		Overridden:    false,
		State:         StateActive,
	}
}
