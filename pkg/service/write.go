package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/activity"
	"github.com/goliatone/go-params/pkg/state"
)

// WriteMetadata carries the audit and scheduling details of a write.
type WriteMetadata struct {
	Actor string
	// EffectiveDate defaults to now.
	EffectiveDate time.Time
	// ExpirationDate nil means the override never expires.
	ExpirationDate *time.Time
	// Metadata is attached to the emitted change event.
	Metadata map[string]any
}

// SetParameter creates or replaces the override of name at one hierarchy
// level. The value is coerced to the definition's type and validated before
// it is written; cached resolutions depending on the level are invalidated
// and a change event is emitted afterwards.
func (s *Service) SetParameter(ctx context.Context, entityType params.EntityType, entityID, name string, value params.Value, meta WriteMetadata) (params.ParameterValue, error) {
	const op = "SetParameter"
	key := state.NewKey(entityType, strings.TrimSpace(entityID), strings.TrimSpace(name))
	if err := key.Validate(); err != nil {
		return params.ParameterValue{}, s.fail(ctx, op, entityType, entityID, name, err)
	}

	def, err := s.registry.Get(ctx, key.Parameter)
	if err != nil {
		return params.ParameterValue{}, s.fail(ctx, op, entityType, entityID, name, err)
	}
	if !def.Overridable {
		return params.ParameterValue{}, s.fail(ctx, op, entityType, entityID, name,
			invalid("parameter %q cannot be overridden", def.Name))
	}
	coerced, err := s.checkValue(def, value)
	if err != nil {
		return params.ParameterValue{}, s.fail(ctx, op, entityType, entityID, name, err)
	}

	effective := meta.EffectiveDate
	if effective.IsZero() {
		effective = s.now()
	}
	if meta.ExpirationDate != nil && !meta.ExpirationDate.After(effective) {
		return params.ParameterValue{}, s.fail(ctx, op, entityType, entityID, name,
			invalid("expiration date must be after effective date"))
	}

	saved, created, err := s.upsert(ctx, key, coerced, effective, meta)
	if err != nil {
		return params.ParameterValue{}, s.fail(ctx, op, entityType, entityID, name, err)
	}

	s.cache.InvalidateHierarchy(ctx, key.Parameter, key.EntityType, key.EntityID)

	input := s.changeInput(key, meta)
	input.Value = &saved.Value
	input.Version = saved.Version
	input.EffectiveDate = saved.EffectiveDate
	input.Confidential = def.Sensitivity == params.SensitivityConfidential
	if created {
		s.emit(ctx, activity.BuildCreatedEvent(input))
	} else {
		s.emit(ctx, activity.BuildUpdatedEvent(input))
	}
	return saved, nil
}

// upsert writes the override with a version-checked update, retrying when a
// concurrent writer wins the race.
func (s *Service) upsert(ctx context.Context, key state.Key, value params.Value, effective time.Time, meta WriteMetadata) (params.ParameterValue, bool, error) {
	for attempt := 0; ; attempt++ {
		current, found, err := s.repo.FindActiveParameter(ctx, key)
		if err != nil {
			return params.ParameterValue{}, false, err
		}

		var saved params.ParameterValue
		if found {
			saved, err = s.repo.UpdateParameter(ctx, key, state.ParameterPatch{
				Value:           value,
				EffectiveDate:   effective,
				ExpirationDate:  meta.ExpirationDate,
				UpdatedBy:       meta.Actor,
				ExpectedVersion: current.Version,
			})
		} else {
			saved, err = s.repo.CreateParameter(ctx, state.ParameterInit{
				Key:            key,
				Value:          value,
				EffectiveDate:  effective,
				ExpirationDate: meta.ExpirationDate,
				CreatedBy:      meta.Actor,
			})
		}
		switch {
		case err == nil:
			return saved, !found, nil
		case errors.Is(err, params.ErrVersionConflict) && attempt < s.retries:
			s.logger.DebugContext(ctx, "retrying parameter write after version conflict",
				slog.String("parameter", key.Parameter),
				slog.String("entity_type", key.EntityType.String()),
				slog.String("entity_id", key.EntityID),
				slog.Int("attempt", attempt+1))
			continue
		default:
			return params.ParameterValue{}, false, err
		}
	}
}

// DeleteParameter removes the current override of name at one level. It
// reports false, without emitting, when there was nothing to delete.
func (s *Service) DeleteParameter(ctx context.Context, entityType params.EntityType, entityID, name string, meta WriteMetadata) (bool, error) {
	const op = "DeleteParameter"
	key := state.NewKey(entityType, strings.TrimSpace(entityID), strings.TrimSpace(name))
	if err := key.Validate(); err != nil {
		return false, s.fail(ctx, op, entityType, entityID, name, err)
	}
	deleted, err := s.repo.DeleteParameter(ctx, key)
	if err != nil {
		return false, s.fail(ctx, op, entityType, entityID, name, err)
	}
	if !deleted {
		return false, nil
	}
	s.cache.InvalidateHierarchy(ctx, key.Parameter, key.EntityType, key.EntityID)
	s.emit(ctx, activity.BuildDeletedEvent(s.changeInput(key, meta)))
	return true, nil
}

// GetParameterHistory returns every recorded version at one level, newest
// first.
func (s *Service) GetParameterHistory(ctx context.Context, entityType params.EntityType, entityID, name string) ([]params.ParameterValue, error) {
	const op = "GetParameterHistory"
	key := state.NewKey(entityType, entityID, name)
	if err := key.Validate(); err != nil {
		return nil, s.fail(ctx, op, entityType, entityID, name, err)
	}
	history, err := s.repo.FindParameterHistory(ctx, key)
	if err != nil {
		return nil, s.fail(ctx, op, entityType, entityID, name, err)
	}
	return history, nil
}

// checkValue coerces value to the definition's type and validates it.
func (s *Service) checkValue(def params.ParameterDefinition, value params.Value) (params.Value, error) {
	if value.IsZero() {
		return params.Value{}, &params.ValidationError{Parameter: def.Name, Errors: []string{"value is required"}}
	}
	coerced, err := value.Coerce(def.DataType)
	if err != nil {
		return params.Value{}, &params.ValidationError{Parameter: def.Name, Errors: []string{err.Error()}}
	}
	if result := s.registry.Validate(def, coerced); !result.Valid {
		return params.Value{}, &params.ValidationError{Parameter: def.Name, Errors: result.Errors}
	}
	return coerced, nil
}

func (s *Service) changeInput(key state.Key, meta WriteMetadata) activity.ChangeInput {
	return activity.ChangeInput{
		ActorID:       meta.Actor,
		EntityType:    key.EntityType,
		EntityID:      key.EntityID,
		ParameterName: key.Parameter,
		Metadata:      meta.Metadata,
		OccurredAt:    s.now(),
	}
}

// emit publishes event. The write is already durable, so failures are only
// logged.
func (s *Service) emit(ctx context.Context, event activity.Event) {
	if !s.emitter.Enabled() {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "parameter change event not delivered",
			slog.String("verb", event.Verb),
			slog.String("object_id", event.ObjectID),
			slog.Any("error", fmt.Errorf("service: emit: %w", err)))
	}
}
