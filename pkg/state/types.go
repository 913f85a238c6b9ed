package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	params "github.com/goliatone/go-params"
)

// ErrMerchantNotFound is returned by directories that do not know a merchant.
var ErrMerchantNotFound = fmt.Errorf("%w: merchant", params.ErrNotFound)

// Merchant is the directory record of a merchant and its ancestors. Empty ids
// mean the merchant has no linked entity at that tier.
type Merchant struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name,omitempty" yaml:"name,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	ProgramID      string            `json:"program_id,omitempty" yaml:"program_id,omitempty"`
	BankID         string            `json:"bank_id,omitempty" yaml:"bank_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Chain returns the inheritance chain of the merchant, skipping missing tiers.
func (m Merchant) Chain() params.InheritanceChain {
	return params.NewInheritanceChain(
		params.ChainLevel{EntityType: params.EntityMerchant, EntityID: m.ID},
		params.ChainLevel{EntityType: params.EntityOrganization, EntityID: m.OrganizationID},
		params.ChainLevel{EntityType: params.EntityProgram, EntityID: m.ProgramID},
		params.ChainLevel{EntityType: params.EntityBank, EntityID: m.BankID},
	)
}

// Directory looks up the ancestors of a merchant.
type Directory interface {
	GetMerchant(ctx context.Context, merchantID string) (Merchant, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, merchantID string) (Merchant, error)

func (f DirectoryFunc) GetMerchant(ctx context.Context, merchantID string) (Merchant, error) {
	return f(ctx, merchantID)
}

// Key identifies the override slot of one parameter at one entity.
type Key struct {
	EntityType params.EntityType
	EntityID   string
	Parameter  string
}

// NewKey builds a Key.
func NewKey(entityType params.EntityType, entityID, parameter string) Key {
	return Key{EntityType: entityType, EntityID: entityID, Parameter: parameter}
}

// Level returns the hierarchy level of the key.
func (k Key) Level() params.ChainLevel {
	return params.ChainLevel{EntityType: k.EntityType, EntityID: k.EntityID}
}

// Validate reports missing or malformed parts as params.ErrInvalidParameter.
func (k Key) Validate() error {
	if !k.EntityType.Valid() {
		return fmt.Errorf("%w: unsupported entity type %q", params.ErrInvalidParameter, k.EntityType)
	}
	if strings.TrimSpace(k.EntityID) == "" {
		return fmt.Errorf("%w: entity id is required", params.ErrInvalidParameter)
	}
	if strings.TrimSpace(k.Parameter) == "" {
		return fmt.Errorf("%w: parameter name is required", params.ErrInvalidParameter)
	}
	return nil
}

// Identifier returns the canonical storage key of k.
func (k Key) Identifier() (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", k.Level().Identifier(), k.Parameter), nil
}

// ParameterInit carries the fields of a new override.
type ParameterInit struct {
	Key
	Value          params.Value
	EffectiveDate  time.Time
	ExpirationDate *time.Time
	CreatedBy      string
}

// ParameterPatch replaces the current version of an override.
// ExpectedVersion is compared with the current version; zero skips the check.
type ParameterPatch struct {
	Value           params.Value
	EffectiveDate   time.Time
	ExpirationDate  *time.Time
	UpdatedBy       string
	ExpectedVersion int
}

// OverrideRepository persists overrides. "Active" here means the current
// version of a slot; callers filter by effective and expiration dates.
type OverrideRepository interface {
	FindActiveParameter(ctx context.Context, key Key) (params.ParameterValue, bool, error)
	FindParametersByEntity(ctx context.Context, entityType params.EntityType, entityID string) ([]params.ParameterValue, error)
	CreateParameter(ctx context.Context, init ParameterInit) (params.ParameterValue, error)
	UpdateParameter(ctx context.Context, key Key, patch ParameterPatch) (params.ParameterValue, error)
	DeleteParameter(ctx context.Context, key Key) (bool, error)
	// FindParameterHistory returns every version of the slot, newest first.
	FindParameterHistory(ctx context.Context, key Key) ([]params.ParameterValue, error)
}

// DefinitionRepository persists parameter definitions.
type DefinitionRepository interface {
	GetAllParameterDefinitions(ctx context.Context) ([]params.ParameterDefinition, error)
	SaveParameterDefinition(ctx context.Context, def params.ParameterDefinition) (params.ParameterDefinition, error)
	FindParameterDefinition(ctx context.Context, name string) (params.ParameterDefinition, bool, error)
}

// Repository is the full persistence contract.
type Repository interface {
	OverrideRepository
	DefinitionRepository
}

// DefinitionSource supplies definitions to the resolver. Get returns an error
// matching params.ErrNotFound for unknown names.
type DefinitionSource interface {
	Get(ctx context.Context, name string) (params.ParameterDefinition, error)
	GetAll(ctx context.Context) ([]params.ParameterDefinition, error)
}
