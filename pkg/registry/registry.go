// Package registry holds parameter definitions in memory, hydrated from a
// DefinitionRepository at startup and refreshed on every save.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

// Option configures a Registry.
type Option func(*Registry)

// WithValidator replaces the validator used for definition checks and value
// validation. Defaults to params.DefaultValidator().
func WithValidator(v *params.Validator) Option {
	return func(r *Registry) {
		if v != nil {
			r.validator = v
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry is safe for concurrent use. Readers observe either the previous or
// the new definition during a save, never a partial one.
type Registry struct {
	repo      state.DefinitionRepository
	validator *params.Validator
	logger    *slog.Logger

	mu     sync.RWMutex
	defs   map[string]params.ParameterDefinition
	loaded bool
}

func New(repo state.DefinitionRepository, opts ...Option) *Registry {
	r := &Registry{
		repo:   repo,
		logger: slog.Default(),
		defs:   map[string]params.ParameterDefinition{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.validator == nil {
		r.validator = params.DefaultValidator()
	}
	return r
}

// Load replaces the in-memory set with every definition in the repository.
// Definitions whose default violates their own rules are logged and skipped;
// the returned error aggregates them while the valid ones stay loaded.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return fmt.Errorf("registry: repository is required")
	}
	defs, err := r.repo.GetAllParameterDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("registry: load definitions: %w", err)
	}

	var result *multierror.Error
	next := make(map[string]params.ParameterDefinition, len(defs))
	for _, def := range defs {
		if err := r.validator.CheckDefinition(def); err != nil {
			r.logger.Error("skipping invalid parameter definition",
				slog.String("parameter", def.Name),
				slog.Any("error", err))
			result = multierror.Append(result, err)
			continue
		}
		next[def.Name] = def.Clone()
	}

	r.mu.Lock()
	r.defs = next
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info("parameter definitions loaded",
		slog.Int("count", len(next)),
		slog.Int("skipped", len(defs)-len(next)))
	return result.ErrorOrNil()
}

// Reload is Load under the name used after definition changes made outside
// this process.
func (r *Registry) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

// Lookup reads the in-memory set only.
func (r *Registry) Lookup(name string) (params.ParameterDefinition, bool) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return params.ParameterDefinition{}, false
	}
	return def.Clone(), true
}

// Get returns the definition of name, reading through to the repository on a
// miss and caching what it finds.
func (r *Registry) Get(ctx context.Context, name string) (params.ParameterDefinition, error) {
	if name == "" {
		return params.ParameterDefinition{}, fmt.Errorf("%w: parameter name is required", params.ErrInvalidParameter)
	}
	if def, ok := r.Lookup(name); ok {
		return def, nil
	}
	if r.repo == nil {
		return params.ParameterDefinition{}, fmt.Errorf("%w: %q", params.ErrDefinitionNotFound, name)
	}
	def, ok, err := r.repo.FindParameterDefinition(ctx, name)
	if err != nil {
		return params.ParameterDefinition{}, fmt.Errorf("registry: find definition %q: %w", name, err)
	}
	if !ok {
		return params.ParameterDefinition{}, fmt.Errorf("%w: %q", params.ErrDefinitionNotFound, name)
	}
	if err := r.validator.CheckDefinition(def); err != nil {
		return params.ParameterDefinition{}, fmt.Errorf("registry: stored definition %q is invalid: %w", name, err)
	}
	r.put(def)
	return def.Clone(), nil
}

// GetAll returns every definition sorted by name, loading the registry first
// if it has not been loaded yet.
func (r *Registry) GetAll(ctx context.Context) ([]params.ParameterDefinition, error) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded && r.repo != nil {
		if err := r.Load(ctx); err != nil {
			r.logger.Warn("definition load reported errors", slog.Any("error", err))
		}
	}

	r.mu.RLock()
	out := make([]params.ParameterDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save checks def, persists it and swaps the in-memory entry.
func (r *Registry) Save(ctx context.Context, def params.ParameterDefinition) (params.ParameterDefinition, error) {
	if err := r.validator.CheckDefinition(def); err != nil {
		return params.ParameterDefinition{}, err
	}
	if r.repo == nil {
		return params.ParameterDefinition{}, fmt.Errorf("registry: repository is required")
	}
	saved, err := r.repo.SaveParameterDefinition(ctx, def)
	if err != nil {
		return params.ParameterDefinition{}, fmt.Errorf("registry: save definition %q: %w", def.Name, err)
	}
	r.put(saved)
	return saved.Clone(), nil
}

// Validate checks value against def with the registry's validator.
func (r *Registry) Validate(def params.ParameterDefinition, value params.Value) params.ValidationResult {
	return r.validator.Validate(def, value)
}

// Len reports the number of definitions held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

func (r *Registry) put(def params.ParameterDefinition) {
	r.mu.Lock()
	r.defs[def.Name] = def.Clone()
	r.mu.Unlock()
}
