package params

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var ErrNoEvaluator = errors.New("params: evaluator not configured")

// Engine names accepted by EXPRESSION rules.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithEvaluator registers e under engine, replacing the built-in evaluator
// for that name.
func WithEvaluator(engine string, e Evaluator) ValidatorOption {
	return func(v *Validator) {
		if e == nil || engine == "" {
			return
		}
		v.evaluators[strings.ToLower(engine)] = e
	}
}

// WithDefaultEngine selects the engine used by EXPRESSION rules that do not
// name one. Defaults to expr.
func WithDefaultEngine(engine string) ValidatorOption {
	return func(v *Validator) {
		if engine != "" {
			v.defaultEngine = strings.ToLower(engine)
		}
	}
}

// WithProgramCache shares compiled programs and patterns across validations.
func WithProgramCache(cache ProgramCache) ValidatorOption {
	return func(v *Validator) { v.cache = cache }
}

// WithFunctionRegistry exposes custom functions to EXPRESSION rules.
func WithFunctionRegistry(registry *FunctionRegistry) ValidatorOption {
	return func(v *Validator) { v.functions = registry }
}

// WithCustomFunction registers a single function, creating the registry when
// needed. Registration errors are reported by NewValidator.
func WithCustomFunction(name string, fn Function) ValidatorOption {
	return func(v *Validator) {
		if v.functions == nil {
			v.functions = NewFunctionRegistry()
		}
		if err := v.functions.Register(name, fn); err != nil {
			v.err = errors.Join(v.err, err)
		}
	}
}

func WithEvaluatorLogger(logger EvaluatorLogger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithValidatorClock overrides the time exposed to expressions as now.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// Validator runs the two-phase check of a value against its definition:
// data type conformance, then the rules in declaration order stopping at the
// first failure.
type Validator struct {
	evaluators    map[string]Evaluator
	defaultEngine string
	cache         ProgramCache
	functions     *FunctionRegistry
	logger        EvaluatorLogger
	now           func() time.Time
	patterns      sync.Map
	err           error
}

// NewValidator builds a Validator with the expr and cel engines, plus js when
// compiled with the js_eval tag.
func NewValidator(opts ...ValidatorOption) (*Validator, error) {
	v := &Validator{
		evaluators:    map[string]Evaluator{},
		defaultEngine: EngineExpr,
		logger:        noopEvaluatorLogger{},
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.err != nil {
		return nil, v.err
	}
	if v.cache == nil {
		v.cache = NewProgramCache(1024, 0)
	}
	if _, ok := v.evaluators[EngineExpr]; !ok {
		v.evaluators[EngineExpr] = NewExprEvaluator(ExprWithProgramCache(v.cache), ExprWithFunctionRegistry(v.functions))
	}
	if _, ok := v.evaluators[EngineCEL]; !ok {
		v.evaluators[EngineCEL] = NewCELEvaluator(CELWithProgramCache(v.cache), CELWithFunctionRegistry(v.functions))
	}
	if _, ok := v.evaluators[EngineJS]; !ok && jsEvaluatorAvailable() {
		if js := NewJSEvaluator(JSWithProgramCache(v.cache), JSWithFunctionRegistry(v.functions)); js != nil {
			v.evaluators[EngineJS] = js
		}
	}
	return v, nil
}

var (
	defaultValidatorOnce sync.Once
	defaultValidator     *Validator
)

// DefaultValidator returns the shared Validator used by
// ParameterDefinition.Validate.
func DefaultValidator() *Validator {
	defaultValidatorOnce.Do(func() {
		v, err := NewValidator()
		if err != nil {
			panic(fmt.Sprintf("params: default validator: %v", err))
		}
		defaultValidator = v
	})
	return defaultValidator
}

// Validate checks value against def. The result never carries more than the
// message of the first failing check.
func (v *Validator) Validate(def ParameterDefinition, value Value) ValidationResult {
	if result := checkDataType(def.DataType, value); !result.Valid {
		return result
	}
	for _, rule := range def.ValidationRules {
		result := v.checkRule(def, rule, value)
		if result.Valid {
			continue
		}
		if rule.Message != "" {
			return invalidResult("%s", rule.Message)
		}
		return result
	}
	return validResult()
}

// CheckDefinition reports configuration errors in def, including a default
// value that fails the definition's own rules.
func (v *Validator) CheckDefinition(def ParameterDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: definition name is required", ErrInvalidParameter)
	}
	if !def.DataType.Valid() {
		return &ValidationError{Parameter: def.Name, Errors: []string{fmt.Sprintf("unknown data type %q", def.DataType)}}
	}
	if def.DefaultValue.IsZero() {
		return &ValidationError{Parameter: def.Name, Errors: []string{"default value is required"}}
	}
	if result := v.Validate(def, def.DefaultValue); !result.Valid {
		errs := make([]string, 0, len(result.Errors))
		for _, msg := range result.Errors {
			errs = append(errs, "default value: "+msg)
		}
		return &ValidationError{Parameter: def.Name, Errors: errs}
	}
	return nil
}

func checkDataType(dataType DataType, value Value) ValidationResult {
	if !dataType.Valid() {
		return invalidResult("unknown data type %q", dataType)
	}
	if value.IsZero() {
		return invalidResult("value is required")
	}
	if value.Type() != dataType {
		return invalidResult("expected %s value, got %s", dataType, value.Type())
	}
	if dataType == DataTypeNumber {
		n, _ := value.AsNumber()
		if math.IsNaN(n) {
			return invalidResult("value must be a number, got NaN")
		}
	}
	return validResult()
}

func (v *Validator) checkRule(def ParameterDefinition, rule ValidationRule, value Value) ValidationResult {
	switch rule.Type {
	case RuleRange:
		return checkRange(rule, value)
	case RulePattern:
		return v.checkPattern(rule, value)
	case RuleEnum:
		return checkEnum(rule, value)
	case RuleExpression:
		return v.checkExpression(def, rule, value)
	default:
		return invalidResult("unknown validation rule type %q", rule.Type)
	}
}

// checkRange compares numbers by value and strings or arrays by length.
func checkRange(rule ValidationRule, value Value) ValidationResult {
	var (
		subject decimal.Decimal
		label   = "value"
	)
	switch value.Type() {
	case DataTypeNumber, DataTypeDecimal:
		d, ok := value.AsDecimal()
		if !ok {
			return invalidResult("value %s is not comparable", value.String())
		}
		subject = d
	case DataTypeString:
		s, _ := value.AsString()
		subject = decimal.NewFromInt(int64(utf8.RuneCountInString(s)))
		label = "length"
	case DataTypeArray:
		items, _ := value.AsArray()
		subject = decimal.NewFromInt(int64(len(items)))
		label = "length"
	default:
		return invalidResult("RANGE rule does not apply to %s values", value.Type())
	}
	if rule.Min != nil && subject.LessThan(decimal.NewFromFloat(*rule.Min)) {
		return invalidResult("%s %s is below minimum %s", label, subject.String(), formatBound(*rule.Min))
	}
	if rule.Max != nil && subject.GreaterThan(decimal.NewFromFloat(*rule.Max)) {
		return invalidResult("%s %s exceeds maximum %s", label, subject.String(), formatBound(*rule.Max))
	}
	return validResult()
}

func formatBound(f float64) string {
	return decimal.NewFromFloat(f).String()
}

func (v *Validator) checkPattern(rule ValidationRule, value Value) ValidationResult {
	re, err := v.compilePattern(rule.Regex)
	if err != nil {
		return invalidResult("invalid pattern %q: %v", rule.Regex, err)
	}
	subject := value.String()
	if !re.MatchString(subject) {
		return invalidResult("value %q does not match pattern %s", subject, rule.Regex)
	}
	return validResult()
}

func (v *Validator) compilePattern(expression string) (*regexp.Regexp, error) {
	if cached, ok := v.patterns.Load(expression); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expression)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(expression, re)
	return re, nil
}

func checkEnum(rule ValidationRule, value Value) ValidationResult {
	for _, allowed := range rule.Values {
		candidate, err := ValueFrom(allowed)
		if err != nil {
			continue
		}
		if candidate.Equal(value) {
			return validResult()
		}
	}
	options := make([]string, 0, len(rule.Values))
	for _, allowed := range rule.Values {
		options = append(options, fmt.Sprint(allowed))
	}
	return invalidResult("value %s is not one of [%s]", value.String(), strings.Join(options, ", "))
}

func (v *Validator) checkExpression(def ParameterDefinition, rule ValidationRule, value Value) ValidationResult {
	engine := strings.ToLower(rule.Engine)
	if engine == "" {
		engine = v.defaultEngine
	}
	evaluator := v.evaluators[engine]
	if evaluator == nil {
		return invalidResult("expression engine %q is not available", engine)
	}
	now := v.now()
	ctx := RuleContext{
		Value:     value.plain(),
		Parameter: def.Name,
		DataType:  def.DataType,
		Now:       &now,
	}
	start := time.Now()
	out, err := evaluator.Evaluate(ctx, rule.Expression)
	if err != nil {
		err = wrapEvaluationError(engine, rule.Expression, def.Name, err)
	}
	v.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:    engine,
		Expr:      rule.Expression,
		Parameter: def.Name,
		Duration:  time.Since(start),
		Err:       err,
	})
	if err != nil {
		return invalidResult("expression %q failed: %v", rule.Expression, err)
	}
	passed, ok := out.(bool)
	if !ok {
		return invalidResult("expression %q must return a boolean, got %T", rule.Expression, out)
	}
	if !passed {
		return invalidResult("value %s does not satisfy %s", value.String(), rule.Expression)
	}
	return validResult()
}
