package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	params "github.com/goliatone/go-params"
)

// Resolver walks a merchant's inheritance chain, most specific level first,
// and returns the first active override or the definition default.
type Resolver struct {
	Store       OverrideRepository
	Directory   Directory
	Definitions DefinitionSource
	Logger      *slog.Logger
	Now         func() time.Time
}

// InheritanceChain returns the chain of merchantID. Directory failures are
// logged and degrade to the merchant-only chain.
func (r Resolver) InheritanceChain(ctx context.Context, merchantID string) params.InheritanceChain {
	chain, _ := r.chain(ctx, merchantID)
	return chain
}

// InheritanceChainWithStatus is InheritanceChain that also reports whether the
// chain was degraded by a directory failure.
func (r Resolver) InheritanceChainWithStatus(ctx context.Context, merchantID string) (params.InheritanceChain, bool) {
	return r.chain(ctx, merchantID)
}

func (r Resolver) chain(ctx context.Context, merchantID string) (params.InheritanceChain, bool) {
	if r.Directory == nil {
		return params.MerchantChain(merchantID), false
	}
	merchant, err := r.Directory.GetMerchant(ctx, merchantID)
	if err != nil {
		r.logger().Warn("directory lookup failed, using merchant-only chain",
			slog.String("merchant_id", merchantID),
			slog.Any("error", err))
		return params.MerchantChain(merchantID), true
	}
	// The directory record is keyed by the requested id even if it echoes
	// another one back.
	merchant.ID = merchantID
	return merchant.Chain(), false
}

// ResolveParameter resolves name for merchantID.
func (r Resolver) ResolveParameter(ctx context.Context, name, merchantID string) (params.ParameterValue, error) {
	if err := r.check(name, merchantID); err != nil {
		return params.ParameterValue{}, err
	}
	return r.ResolveInChain(ctx, name, r.InheritanceChain(ctx, merchantID))
}

// ResolveInChain resolves name against an already built chain.
func (r Resolver) ResolveInChain(ctx context.Context, name string, chain params.InheritanceChain) (params.ParameterValue, error) {
	if r.Store == nil {
		return params.ParameterValue{}, fmt.Errorf("state: store is required")
	}
	now := r.now()
	for _, level := range chain {
		value, ok, err := r.Store.FindActiveParameter(ctx, NewKey(level.EntityType, level.EntityID, name))
		if err != nil {
			return params.ParameterValue{}, fmt.Errorf("state: find %q at %s: %w", name, level, err)
		}
		if ok && value.IsActive(now) {
			return value, nil
		}
	}
	return r.defaultValue(ctx, name)
}

// ResolveMultipleParameters resolves names for merchantID with one bulk read
// per level. Names without an override or a definition are logged and left
// out of the result.
func (r Resolver) ResolveMultipleParameters(ctx context.Context, names []string, merchantID string) (map[string]params.ParameterValue, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant id is required", params.ErrInvalidParameter)
	}
	return r.ResolveMultipleInChain(ctx, names, r.InheritanceChain(ctx, merchantID))
}

// ResolveMultipleInChain resolves names against an already built chain and
// stops reading levels once every name is resolved.
func (r Resolver) ResolveMultipleInChain(ctx context.Context, names []string, chain params.InheritanceChain) (map[string]params.ParameterValue, error) {
	if r.Store == nil {
		return nil, fmt.Errorf("state: store is required")
	}
	pending := make(map[string]struct{}, len(names))
	order := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, dup := pending[name]; dup {
			continue
		}
		pending[name] = struct{}{}
		order = append(order, name)
	}

	result := make(map[string]params.ParameterValue, len(order))
	now := r.now()
	for _, level := range chain {
		if len(pending) == 0 {
			break
		}
		rows, err := r.Store.FindParametersByEntity(ctx, level.EntityType, level.EntityID)
		if err != nil {
			return nil, fmt.Errorf("state: find parameters at %s: %w", level, err)
		}
		for _, row := range rows {
			if _, wanted := pending[row.ParameterName]; !wanted || !row.IsActive(now) {
				continue
			}
			result[row.ParameterName] = row
			delete(pending, row.ParameterName)
		}
	}

	for _, name := range order {
		if _, open := pending[name]; !open {
			continue
		}
		value, err := r.defaultValue(ctx, name)
		if errors.Is(err, params.ErrNotFound) {
			r.logger().Warn("skipping parameter without definition",
				slog.String("parameter", name),
				slog.String("chain", chain.String()))
			continue
		}
		if err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, nil
}

// GetEffectiveParameters returns the effective value of every parameter for
// merchantID: overrides found at any level plus defaults for the rest.
func (r Resolver) GetEffectiveParameters(ctx context.Context, merchantID string) (map[string]params.ParameterValue, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant id is required", params.ErrInvalidParameter)
	}
	if r.Store == nil {
		return nil, fmt.Errorf("state: store is required")
	}
	chain := r.InheritanceChain(ctx, merchantID)

	perLevel := make([][]params.ParameterValue, len(chain))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, level := range chain {
		group.Go(func() error {
			rows, err := r.Store.FindParametersByEntity(groupCtx, level.EntityType, level.EntityID)
			if err != nil {
				return fmt.Errorf("state: find parameters at %s: %w", level, err)
			}
			perLevel[i] = rows
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	now := r.now()
	result := map[string]params.ParameterValue{}
	for _, rows := range perLevel {
		for _, row := range rows {
			if _, seen := result[row.ParameterName]; seen || !row.IsActive(now) {
				continue
			}
			result[row.ParameterName] = row
		}
	}

	if r.Definitions == nil {
		return result, nil
	}
	defs, err := r.Definitions.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: list definitions: %w", err)
	}
	for _, def := range defs {
		if _, seen := result[def.Name]; seen {
			continue
		}
		result[def.Name] = params.DefaultParameterValue(def)
	}
	return result, nil
}

// ResolveWithTrace resolves name and reports every level consulted. Unlike
// ResolveParameter it reads all levels so shadowed overrides are visible.
func (r Resolver) ResolveWithTrace(ctx context.Context, name, merchantID string) (params.ParameterValue, params.Trace, error) {
	if err := r.check(name, merchantID); err != nil {
		return params.ParameterValue{}, params.Trace{}, err
	}
	if r.Store == nil {
		return params.ParameterValue{}, params.Trace{}, fmt.Errorf("state: store is required")
	}
	chain, degraded := r.chain(ctx, merchantID)
	trace := params.Trace{
		Parameter:  name,
		MerchantID: merchantID,
		Degraded:   degraded,
		Levels:     make([]params.Provenance, 0, len(chain)+1),
	}

	now := r.now()
	var (
		effective params.ParameterValue
		applied   bool
	)
	for _, level := range chain {
		entry := params.Provenance{Level: level}
		value, ok, err := r.Store.FindActiveParameter(ctx, NewKey(level.EntityType, level.EntityID, name))
		if err != nil {
			return params.ParameterValue{}, trace, fmt.Errorf("state: find %q at %s: %w", name, level, err)
		}
		if ok && value.IsActive(now) {
			v := value.Value
			entry.Found = true
			entry.Value = &v
			entry.Version = value.Version
			if !applied {
				entry.Applied = true
				effective = value
				applied = true
			}
		}
		trace.Levels = append(trace.Levels, entry)
	}

	defaultEntry := params.Provenance{
		Level: params.ChainLevel{EntityType: params.EntityDefault, EntityID: params.DefaultEntityID},
	}
	fallback, err := r.defaultValue(ctx, name)
	switch {
	case err == nil:
		v := fallback.Value
		defaultEntry.Found = true
		defaultEntry.Value = &v
		if !applied {
			defaultEntry.Applied = true
			effective = fallback
			applied = true
		}
	case !applied:
		return params.ParameterValue{}, trace, err
	}
	trace.Levels = append(trace.Levels, defaultEntry)
	return effective, trace, nil
}

func (r Resolver) defaultValue(ctx context.Context, name string) (params.ParameterValue, error) {
	if r.Definitions == nil {
		return params.ParameterValue{}, fmt.Errorf("%w: %q", params.ErrDefinitionNotFound, name)
	}
	def, err := r.Definitions.Get(ctx, name)
	if err != nil {
		if errors.Is(err, params.ErrNotFound) {
			return params.ParameterValue{}, err
		}
		return params.ParameterValue{}, fmt.Errorf("state: load definition %q: %w", name, err)
	}
	return params.DefaultParameterValue(def), nil
}

func (r Resolver) check(name, merchantID string) error {
	if name == "" {
		return fmt.Errorf("%w: parameter name is required", params.ErrInvalidParameter)
	}
	if merchantID == "" {
		return fmt.Errorf("%w: merchant id is required", params.ErrInvalidParameter)
	}
	return nil
}

func (r Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
