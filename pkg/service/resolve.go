package service

import (
	"context"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/cache"
)

// ResolveParameter returns the effective override, or the synthesized
// default, of name for merchantID. Results are cached per merchant unless the
// chain was degraded by a directory failure.
func (s *Service) ResolveParameter(ctx context.Context, name, merchantID string) (params.ParameterValue, error) {
	const op = "ResolveParameter"
	if name == "" || merchantID == "" {
		return params.ParameterValue{}, s.fail(ctx, op, params.EntityMerchant, merchantID, name,
			invalid("parameter name and merchant id are required"))
	}
	if cached, ok := s.cache.Get(ctx, name, merchantID); ok {
		return cached, nil
	}
	gen := s.cache.Generation()
	chain, degraded := s.resolver.InheritanceChainWithStatus(ctx, merchantID)
	value, err := s.resolver.ResolveInChain(ctx, name, chain)
	if err != nil {
		return params.ParameterValue{}, s.fail(ctx, op, params.EntityMerchant, merchantID, name, err)
	}
	if !degraded {
		s.cache.Set(ctx, name, merchantID, value, cache.WithChain(chain), cache.ResolvedAt(gen))
	}
	return value, nil
}

// GetParameterValue returns only the effective value of name for merchantID.
func (s *Service) GetParameterValue(ctx context.Context, name, merchantID string) (params.Value, error) {
	value, err := s.ResolveParameter(ctx, name, merchantID)
	if err != nil {
		return params.Value{}, err
	}
	return value.Value, nil
}

// ResolveParameters is the batch form of ResolveParameter. Cached names are
// served from the cache and the rest resolved with one read per level.
// Names without an override or a definition are left out.
func (s *Service) ResolveParameters(ctx context.Context, names []string, merchantID string) (map[string]params.ParameterValue, error) {
	const op = "ResolveParameters"
	if merchantID == "" {
		return nil, s.fail(ctx, op, params.EntityMerchant, merchantID, "", invalid("merchant id is required"))
	}
	result := s.cache.GetBulk(ctx, names, merchantID)
	var misses []string
	for _, name := range names {
		if _, hit := result[name]; !hit && name != "" {
			misses = append(misses, name)
		}
	}
	if len(misses) == 0 {
		return result, nil
	}

	gen := s.cache.Generation()
	chain, degraded := s.resolver.InheritanceChainWithStatus(ctx, merchantID)
	resolved, err := s.resolver.ResolveMultipleInChain(ctx, misses, chain)
	if err != nil {
		return nil, s.fail(ctx, op, params.EntityMerchant, merchantID, "", err)
	}
	if !degraded {
		s.cache.SetBulk(ctx, merchantID, resolved, cache.WithChain(chain), cache.ResolvedAt(gen))
	}
	for name, value := range resolved {
		result[name] = value
	}
	return result, nil
}

// GetParametersValue returns only the effective values of names for
// merchantID.
func (s *Service) GetParametersValue(ctx context.Context, names []string, merchantID string) (map[string]params.Value, error) {
	values, err := s.ResolveParameters(ctx, names, merchantID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]params.Value, len(values))
	for name, value := range values {
		out[name] = value.Value
	}
	return out, nil
}

// GetEffectiveParameters returns the effective value of every defined or
// overridden parameter for merchantID. It always reads through to the
// repository.
func (s *Service) GetEffectiveParameters(ctx context.Context, merchantID string) (map[string]params.ParameterValue, error) {
	values, err := s.resolver.GetEffectiveParameters(ctx, merchantID)
	if err != nil {
		return nil, s.fail(ctx, "GetEffectiveParameters", params.EntityMerchant, merchantID, "", err)
	}
	return values, nil
}

// GetInheritanceChain returns the chain of merchantID, degraded to the
// merchant alone when the directory cannot be reached.
func (s *Service) GetInheritanceChain(ctx context.Context, merchantID string) (params.InheritanceChain, error) {
	if merchantID == "" {
		return nil, s.fail(ctx, "GetInheritanceChain", params.EntityMerchant, merchantID, "", invalid("merchant id is required"))
	}
	return s.resolver.InheritanceChain(ctx, merchantID), nil
}

// ResolveWithTrace resolves name for merchantID bypassing the cache and
// reports every level consulted.
func (s *Service) ResolveWithTrace(ctx context.Context, name, merchantID string) (params.ParameterValue, params.Trace, error) {
	value, trace, err := s.resolver.ResolveWithTrace(ctx, name, merchantID)
	if err != nil {
		return params.ParameterValue{}, trace, s.fail(ctx, "ResolveWithTrace", params.EntityMerchant, merchantID, name, err)
	}
	return value, trace, nil
}
