package activity

import (
	"strings"
	"time"

	params "github.com/goliatone/go-params"
)

// Verbs emitted for parameter overrides.
const (
	VerbParameterCreated = "parameter.created"
	VerbParameterUpdated = "parameter.updated"
	VerbParameterDeleted = "parameter.deleted"
)

// ObjectTypeParameter is the object type of every parameter change event.
const ObjectTypeParameter = "parameter"

// Metadata keys carried by parameter change events.
const (
	MetaEntityType    = "entity_type"
	MetaEntityID      = "entity_id"
	MetaParameterName = "parameter_name"
	MetaValue         = "value"
	MetaDataType      = "data_type"
	MetaVersion       = "version"
	MetaEffectiveDate = "effective_date"
	MetaRedacted      = "redacted"
)

// ChangeInput describes an override change at one hierarchy level.
type ChangeInput struct {
	ActorID       string
	TenantID      string
	Channel       string
	EntityType    params.EntityType
	EntityID      string
	ParameterName string
	// Value is absent for deletions.
	Value         *params.Value
	Version       int
	EffectiveDate time.Time
	Metadata      map[string]any
	OccurredAt    time.Time
	// Confidential keeps the value out of the event; only its type is sent.
	Confidential bool
}

// Change is the payload recovered from a parameter change event.
type Change struct {
	EntityType    params.EntityType
	EntityID      string
	ParameterName string
	Value         *params.Value
	Version       int
}

func BuildCreatedEvent(input ChangeInput) Event {
	return buildChangeEvent(VerbParameterCreated, input)
}

func BuildUpdatedEvent(input ChangeInput) Event {
	return buildChangeEvent(VerbParameterUpdated, input)
}

func BuildDeletedEvent(input ChangeInput) Event {
	input.Value = nil
	return buildChangeEvent(VerbParameterDeleted, input)
}

// ObjectID identifies an override slot, for example
// "organization/o1/currency".
func ObjectID(entityType params.EntityType, entityID, name string) string {
	return strings.ToLower(string(entityType)) + "/" + entityID + "/" + name
}

func buildChangeEvent(verb string, input ChangeInput) Event {
	metadata := cloneMap(input.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[MetaEntityType] = string(input.EntityType)
	metadata[MetaEntityID] = strings.TrimSpace(input.EntityID)
	metadata[MetaParameterName] = strings.TrimSpace(input.ParameterName)
	if input.Version > 0 {
		metadata[MetaVersion] = input.Version
	}
	if input.Value != nil {
		metadata[MetaDataType] = string(input.Value.Type())
		if input.Confidential {
			metadata[MetaRedacted] = true
		} else {
			metadata[MetaValue] = *input.Value
		}
	}
	if !input.EffectiveDate.IsZero() {
		metadata[MetaEffectiveDate] = input.EffectiveDate.UTC().Format(time.RFC3339)
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: ObjectTypeParameter,
		ObjectID:   ObjectID(input.EntityType, strings.TrimSpace(input.EntityID), strings.TrimSpace(input.ParameterName)),
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

// ChangeFromEvent recovers the override change carried by a parameter event.
// It reports false for events of other object types or with incomplete
// metadata.
func ChangeFromEvent(event Event) (Change, bool) {
	if event.ObjectType != ObjectTypeParameter {
		return Change{}, false
	}
	entityType, _ := event.Metadata[MetaEntityType].(string)
	entityID, _ := event.Metadata[MetaEntityID].(string)
	name, _ := event.Metadata[MetaParameterName].(string)
	parsed, ok := params.ParseEntityType(entityType)
	if !ok || entityID == "" || name == "" {
		return Change{}, false
	}
	change := Change{EntityType: parsed, EntityID: entityID, ParameterName: name}
	if version, ok := event.Metadata[MetaVersion].(int); ok {
		change.Version = version
	}
	if raw, ok := event.Metadata[MetaValue]; ok && raw != nil {
		value, err := params.ValueFrom(raw)
		if err != nil {
			return Change{}, false
		}
		if dataType, ok := event.Metadata[MetaDataType].(string); ok {
			if target, ok := params.ParseDataType(dataType); ok {
				if coerced, err := value.Coerce(target); err == nil {
					value = coerced
				}
			}
		}
		change.Value = &value
	}
	return change, true
}
