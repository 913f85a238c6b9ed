package activity

import (
	"testing"
	"time"

	params "github.com/goliatone/go-params"
	"github.com/shopspring/decimal"
)

func TestBuildUpdatedEventCarriesChange(t *testing.T) {
	value := params.DecimalValue(decimal.RequireFromString("500.00"))
	meta := map[string]any{"reason": "risk review"}
	input := ChangeInput{
		ActorID:       " ops ",
		EntityType:    params.EntityProgram,
		EntityID:      "p1",
		ParameterName: "maxRefundAmount",
		Value:         &value,
		Version:       2,
		EffectiveDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Metadata:      meta,
	}

	event := BuildUpdatedEvent(input)

	if event.Verb != VerbParameterUpdated || event.ObjectType != ObjectTypeParameter {
		t.Fatalf("unexpected event header: %+v", event)
	}
	if event.ObjectID != "program/p1/maxRefundAmount" {
		t.Fatalf("unexpected object id %q", event.ObjectID)
	}
	if event.ActorID != "ops" {
		t.Fatalf("expected trimmed actor, got %q", event.ActorID)
	}
	if event.Metadata["reason"] != "risk review" || event.Metadata[MetaVersion] != 2 {
		t.Fatalf("unexpected metadata %+v", event.Metadata)
	}
	if event.Metadata[MetaEffectiveDate] != "2024-06-01T00:00:00Z" {
		t.Fatalf("unexpected effective date %v", event.Metadata[MetaEffectiveDate])
	}
	if _, leaked := meta[MetaEntityType]; leaked {
		t.Fatalf("input metadata must not be modified")
	}

	change, ok := ChangeFromEvent(event)
	if !ok {
		t.Fatalf("expected change to be recovered")
	}
	if change.EntityType != params.EntityProgram || change.EntityID != "p1" || change.ParameterName != "maxRefundAmount" || change.Version != 2 {
		t.Fatalf("unexpected change %+v", change)
	}
	if change.Value == nil || !change.Value.Equal(value) || change.Value.Type() != params.DataTypeDecimal {
		t.Fatalf("unexpected change value %+v", change.Value)
	}
}

func TestBuildDeletedEventOmitsValue(t *testing.T) {
	value := params.BoolValue(true)
	event := BuildDeletedEvent(ChangeInput{
		EntityType:    params.EntityBank,
		EntityID:      "b1",
		ParameterName: "instantPayouts",
		Value:         &value,
	})
	if event.Verb != VerbParameterDeleted {
		t.Fatalf("unexpected verb %q", event.Verb)
	}
	if _, ok := event.Metadata[MetaValue]; ok {
		t.Fatalf("deleted events carry no value")
	}
	change, ok := ChangeFromEvent(event)
	if !ok || change.Value != nil || change.EntityType != params.EntityBank {
		t.Fatalf("unexpected change %+v (%v)", change, ok)
	}
}

func TestConfidentialChangeIsRedacted(t *testing.T) {
	value := params.StringValue("sk_live_123")
	event := BuildCreatedEvent(ChangeInput{
		EntityType:    params.EntityBank,
		EntityID:      "b1",
		ParameterName: "processorKey",
		Value:         &value,
		Version:       1,
		Confidential:  true,
	})

	if _, ok := event.Metadata[MetaValue]; ok {
		t.Fatalf("confidential value leaked into %+v", event.Metadata)
	}
	if event.Metadata[MetaRedacted] != true || event.Metadata[MetaDataType] != "STRING" {
		t.Fatalf("expected redaction marker and type, got %+v", event.Metadata)
	}
	change, ok := ChangeFromEvent(event)
	if !ok || change.Value != nil || change.Version != 1 {
		t.Fatalf("expected change without value, got %+v (%v)", change, ok)
	}
}

func TestChangeFromEventRejectsForeignEvents(t *testing.T) {
	if _, ok := ChangeFromEvent(Event{ObjectType: "user"}); ok {
		t.Fatalf("expected foreign object type to be rejected")
	}
	if _, ok := ChangeFromEvent(Event{ObjectType: ObjectTypeParameter, Metadata: map[string]any{MetaEntityType: "PLANET"}}); ok {
		t.Fatalf("expected unknown entity type to be rejected")
	}
}

func TestCaptureHookRecordsVerbs(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true})
	value := params.StringValue("EUR")
	for _, event := range []Event{
		BuildCreatedEvent(ChangeInput{EntityType: params.EntityOrganization, EntityID: "o1", ParameterName: "currency", Value: &value, Version: 1}),
		BuildDeletedEvent(ChangeInput{EntityType: params.EntityOrganization, EntityID: "o1", ParameterName: "currency"}),
	} {
		if err := emitter.Emit(t.Context(), event); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	verbs := capture.Verbs()
	if len(verbs) != 2 || verbs[0] != VerbParameterCreated || verbs[1] != VerbParameterDeleted {
		t.Fatalf("unexpected verbs %v", verbs)
	}
}
