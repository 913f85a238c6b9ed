package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/schema/openapi"
)

func (s *Service) GetParameterDefinition(ctx context.Context, name string) (params.ParameterDefinition, error) {
	def, err := s.registry.Get(ctx, name)
	if err != nil {
		return params.ParameterDefinition{}, s.fail(ctx, "GetParameterDefinition", "", "", name, err)
	}
	return def, nil
}

// GetAllParameterDefinitions returns every definition sorted by name.
func (s *Service) GetAllParameterDefinitions(ctx context.Context) ([]params.ParameterDefinition, error) {
	defs, err := s.registry.GetAll(ctx)
	if err != nil {
		return nil, s.fail(ctx, "GetAllParameterDefinitions", "", "", "", err)
	}
	return defs, nil
}

// SaveParameterDefinition validates and stores def, then drops every cached
// resolution of the parameter since its default may have changed.
func (s *Service) SaveParameterDefinition(ctx context.Context, def params.ParameterDefinition) (params.ParameterDefinition, error) {
	saved, err := s.registry.Save(ctx, def)
	if err != nil {
		return params.ParameterDefinition{}, s.fail(ctx, "SaveParameterDefinition", "", "", def.Name, err)
	}
	removed := s.cache.InvalidateParameter(ctx, saved.Name)
	s.logger.InfoContext(ctx, "parameter definition saved",
		slog.String("parameter", saved.Name),
		slog.String("data_type", string(saved.DataType)),
		slog.Int("invalidated", removed))
	return saved, nil
}

// ValidateParameterValue checks value against the definition of name without
// writing anything. Values of another type are coerced first when possible.
func (s *Service) ValidateParameterValue(ctx context.Context, name string, value params.Value) (params.ValidationResult, error) {
	def, err := s.registry.Get(ctx, name)
	if errors.Is(err, params.ErrNotFound) {
		return params.ValidationResult{Errors: []string{fmt.Sprintf("parameter definition %q not found", name)}}, nil
	}
	if err != nil {
		return params.ValidationResult{}, s.fail(ctx, "ValidateParameterValue", "", "", name, err)
	}
	if coerced, err := value.Coerce(def.DataType); err == nil {
		value = coerced
	}
	return s.registry.Validate(def, value), nil
}

// DescribeDefinitions renders every definition as an OpenAPI document.
func (s *Service) DescribeDefinitions(ctx context.Context, opts ...openapi.GeneratorOption) (map[string]any, error) {
	defs, err := s.GetAllParameterDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := openapi.Generate(defs, opts...)
	if err != nil {
		return nil, s.fail(ctx, "DescribeDefinitions", "", "", "", err)
	}
	return doc, nil
}
