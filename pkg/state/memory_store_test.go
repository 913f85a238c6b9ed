package state_test

import (
	"context"
	"errors"
	"testing"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

func TestMemoryStoreVersioning(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore(state.WithStoreClock(fixedClock()))
	key := state.NewKey(params.EntityProgram, "p1", "maxRefundAmount")

	first := mustCreate(t, store, params.EntityProgram, "p1", "maxRefundAmount", params.NumberValue(500))
	if first.Version != 1 || !first.Overridden || first.ID == "" {
		t.Fatalf("unexpected first record %+v", first)
	}

	if _, err := store.CreateParameter(ctx, state.ParameterInit{Key: key, Value: params.NumberValue(1)}); !errors.Is(err, params.ErrVersionConflict) {
		t.Fatalf("expected conflict creating over a current row, got %v", err)
	}

	second, err := store.UpdateParameter(ctx, key, state.ParameterPatch{Value: params.NumberValue(750), ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.Version != 2 || second.CreatedBy != "tester" {
		t.Fatalf("unexpected second record %+v", second)
	}

	if _, err := store.UpdateParameter(ctx, key, state.ParameterPatch{Value: params.NumberValue(1), ExpectedVersion: 1}); !errors.Is(err, params.ErrVersionConflict) {
		t.Fatalf("expected stale version conflict, got %v", err)
	}

	current, ok, err := store.FindActiveParameter(ctx, key)
	if err != nil || !ok {
		t.Fatalf("find active: ok=%v err=%v", ok, err)
	}
	if !current.Value.Equal(params.NumberValue(750)) {
		t.Fatalf("expected 750, got %v", current.Value)
	}

	deleted, err := store.DeleteParameter(ctx, key)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.DeleteParameter(ctx, key)
	if err != nil || deleted {
		t.Fatalf("second delete should report nothing removed: deleted=%v err=%v", deleted, err)
	}
	if _, ok, _ := store.FindActiveParameter(ctx, key); ok {
		t.Fatalf("expected no active row after delete")
	}

	third := mustCreate(t, store, params.EntityProgram, "p1", "maxRefundAmount", params.NumberValue(900))
	if third.Version != 3 {
		t.Fatalf("expected version to continue from history, got %d", third.Version)
	}

	history, err := store.FindParameterHistory(ctx, key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(history))
	}
	wantStates := []params.RecordState{params.StateActive, params.StateDeleted, params.StateSuperseded}
	for i, want := range wantStates {
		if history[i].State != want || history[i].Version != 3-i {
			t.Fatalf("history[%d]: expected v%d %s, got v%d %s", i, 3-i, want, history[i].Version, history[i].State)
		}
	}
}

func TestMemoryStoreUpdateWithoutCurrentRow(t *testing.T) {
	store := state.NewMemoryStore()
	_, err := store.UpdateParameter(context.Background(), state.NewKey(params.EntityBank, "b1", "currency"), state.ParameterPatch{Value: params.StringValue("EUR")})
	if !errors.Is(err, params.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreRejectsInvalidKeys(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()
	cases := []state.Key{
		state.NewKey(params.EntityDefault, "DEFAULT", "currency"),
		state.NewKey(params.EntityBank, "", "currency"),
		state.NewKey(params.EntityBank, "b1", ""),
	}
	for _, key := range cases {
		if _, _, err := store.FindActiveParameter(ctx, key); !errors.Is(err, params.ErrInvalidParameter) {
			t.Fatalf("expected invalid parameter for %+v, got %v", key, err)
		}
	}
	if _, err := store.CreateParameter(ctx, state.ParameterInit{Key: state.NewKey(params.EntityBank, "b1", "currency")}); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("expected missing value to be rejected, got %v", err)
	}
}

func TestMemoryStoreFindParametersByEntity(t *testing.T) {
	store := state.NewMemoryStore()
	mustCreate(t, store, params.EntityBank, "b1", "currency", params.StringValue("EUR"))
	mustCreate(t, store, params.EntityBank, "b1", "maxRefundAmount", params.NumberValue(100))
	mustCreate(t, store, params.EntityBank, "b2", "currency", params.StringValue("GBP"))
	if _, err := store.DeleteParameter(context.Background(), state.NewKey(params.EntityBank, "b1", "maxRefundAmount")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rows, err := store.FindParametersByEntity(context.Background(), params.EntityBank, "b1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 1 || rows[0].ParameterName != "currency" {
		t.Fatalf("expected only the current currency row, got %+v", rows)
	}
}

func TestMemoryStoreDefinitions(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore(state.WithStoreClock(fixedClock()))

	def := params.NewDefinition("currency", params.DataTypeString, params.StringValue("USD"), params.WithRules(params.Enum("USD", "EUR")))
	saved, err := store.SaveParameterDefinition(ctx, def)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !saved.CreatedAt.Equal(baseTime) || !saved.UpdatedAt.Equal(baseTime) {
		t.Fatalf("expected timestamps from clock, got %+v", saved)
	}

	def.ValidationRules[0].Values[0] = "GBP"
	found, ok, err := store.FindParameterDefinition(ctx, "currency")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if found.ValidationRules[0].Values[0] != "USD" {
		t.Fatalf("stored definition must be detached from caller")
	}

	all, err := store.GetAllParameterDefinitions(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one definition, got %d (%v)", len(all), err)
	}

	if _, err := store.SaveParameterDefinition(ctx, params.ParameterDefinition{}); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("expected unnamed definition to be rejected, got %v", err)
	}
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	store := state.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := store.FindActiveParameter(ctx, state.NewKey(params.EntityBank, "b1", "currency")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestKeyIdentifier(t *testing.T) {
	id, err := state.NewKey(params.EntityOrganization, "o1", "currency").Identifier()
	if err != nil {
		t.Fatalf("identifier: %v", err)
	}
	if id != "organization/o1/currency" {
		t.Fatalf("unexpected identifier %q", id)
	}
	if _, err := state.NewKey("TEAM", "t1", "currency").Identifier(); err == nil {
		t.Fatalf("expected unsupported entity type error")
	}
}
