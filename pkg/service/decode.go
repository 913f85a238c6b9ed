package service

import (
	"context"

	"github.com/goliatone/go-params/internal/hydrate"
)

// DecodeParameter resolves name for merchantID and decodes the value into T.
// It is mainly useful for OBJECT and ARRAY parameters.
func DecodeParameter[T any](ctx context.Context, s *Service, name, merchantID string, opts ...hydrate.DecoderOption[T]) (T, error) {
	var zero T
	value, err := s.ResolveParameter(ctx, name, merchantID)
	if err != nil {
		return zero, err
	}
	decoded, err := hydrate.NewDecoder(opts...).Decode(hydrate.Context{Parameter: name, MerchantID: merchantID}, value.Value)
	if err != nil {
		return zero, s.fail(ctx, "DecodeParameter", value.EntityType, value.EntityID, name, err)
	}
	return decoded, nil
}
