// Package seed loads definitions, merchants and overrides from a YAML file
// and applies them through the resolution service so every value is
// validated and announced like any other write.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/service"
	"github.com/goliatone/go-params/pkg/state"
)

// File is the on-disk seed document.
type File struct {
	Definitions []params.ParameterDefinition `yaml:"definitions"`
	Merchants   []state.Merchant             `yaml:"merchants"`
	Overrides   []Override                   `yaml:"overrides"`
}

// Override is one seeded override.
type Override struct {
	EntityType     string       `yaml:"entity_type"`
	EntityID       string       `yaml:"entity_id"`
	Parameter      string       `yaml:"parameter"`
	Value          params.Value `yaml:"value"`
	EffectiveDate  *time.Time   `yaml:"effective_date,omitempty"`
	ExpirationDate *time.Time   `yaml:"expiration_date,omitempty"`
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("seed: decode: %w", err)
	}
	return file, nil
}

// Load reads and parses the seed file at path.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Target receives seeded definitions and overrides.
type Target interface {
	SaveParameterDefinition(ctx context.Context, def params.ParameterDefinition) (params.ParameterDefinition, error)
	SetParameter(ctx context.Context, entityType params.EntityType, entityID, name string, value params.Value, meta service.WriteMetadata) (params.ParameterValue, error)
}

// MerchantWriter receives seeded merchants.
type MerchantWriter interface {
	PutMerchant(ctx context.Context, merchant state.Merchant) error
}

// Result counts what was applied.
type Result struct {
	Definitions int
	Merchants   int
	Overrides   int
}

// Apply writes file in dependency order: definitions, merchants, overrides.
// A failing definition aborts since later overrides may depend on it;
// merchant and override failures are collected and the rest still applied.
// merchants may be nil when the file carries none.
func Apply(ctx context.Context, file File, target Target, merchants MerchantWriter, actor string) (Result, error) {
	var result Result
	for _, def := range file.Definitions {
		if _, err := target.SaveParameterDefinition(ctx, def); err != nil {
			return result, fmt.Errorf("seed: definition %q: %w", def.Name, err)
		}
		result.Definitions++
	}

	var errs *multierror.Error
	if len(file.Merchants) > 0 && merchants == nil {
		errs = multierror.Append(errs, fmt.Errorf("seed: %d merchants but no directory to write them to", len(file.Merchants)))
	}
	if merchants != nil {
		for _, merchant := range file.Merchants {
			if err := merchants.PutMerchant(ctx, merchant); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("seed: merchant %q: %w", merchant.ID, err))
				continue
			}
			result.Merchants++
		}
	}

	for i, override := range file.Overrides {
		entityType, ok := params.ParseEntityType(override.EntityType)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("seed: override %d: %w: entity type %q",
				i, params.ErrInvalidParameter, override.EntityType))
			continue
		}
		meta := service.WriteMetadata{Actor: actor, ExpirationDate: override.ExpirationDate}
		if override.EffectiveDate != nil {
			meta.EffectiveDate = *override.EffectiveDate
		}
		if _, err := target.SetParameter(ctx, entityType, override.EntityID, override.Parameter, override.Value, meta); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("seed: override %s/%s %q: %w",
				entityType, override.EntityID, override.Parameter, err))
			continue
		}
		result.Overrides++
	}
	return result, errs.ErrorOrNil()
}
