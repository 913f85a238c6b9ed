package state_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

func newResolver(store state.OverrideRepository) state.Resolver {
	return state.Resolver{
		Store:       store,
		Directory:   sampleDirectory(),
		Definitions: sampleDefinitions(),
		Now:         fixedClock(),
	}
}

func TestResolveParameterSpecificityOrdering(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	resolver := newResolver(store)

	levels := []struct {
		entityType params.EntityType
		entityID   string
		value      float64
	}{
		{params.EntityBank, "b1", 100},
		{params.EntityProgram, "p1", 200},
		{params.EntityOrganization, "o1", 300},
		{params.EntityMerchant, "m1", 400},
	}

	resolved, err := resolver.ResolveParameter(ctx, "maxRefundAmount", "m1")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if resolved.Overridden || resolved.EntityID != params.DefaultEntityID {
		t.Fatalf("expected default before any override, got %+v", resolved)
	}

	// Each added level is more specific than the last and must win.
	for _, level := range levels {
		mustCreate(t, store, level.entityType, level.entityID, "maxRefundAmount", params.NumberValue(level.value))
		resolved, err := resolver.ResolveParameter(ctx, "maxRefundAmount", "m1")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if resolved.EntityType != level.entityType || !resolved.Value.Equal(params.NumberValue(level.value)) {
			t.Fatalf("expected %s=%v, got %s=%v", level.entityType, level.value, resolved.EntityType, resolved.Value)
		}
	}

	// Removing the most specific levels falls back level by level.
	for i := len(levels) - 1; i > 0; i-- {
		level := levels[i]
		if _, err := store.DeleteParameter(ctx, state.NewKey(level.entityType, level.entityID, "maxRefundAmount")); err != nil {
			t.Fatalf("delete: %v", err)
		}
		next := levels[i-1]
		resolved, err := resolver.ResolveParameter(ctx, "maxRefundAmount", "m1")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if resolved.EntityType != next.entityType {
			t.Fatalf("expected fallback to %s, got %s", next.entityType, resolved.EntityType)
		}
	}
}

func TestResolveParameterSkipsInactiveOverrides(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	resolver := newResolver(store)

	past := baseTime.Add(-time.Minute)
	mustCreate(t, store, params.EntityMerchant, "m1", "currency", params.StringValue("EXP"), func(init *state.ParameterInit) {
		init.EffectiveDate = baseTime.Add(-48 * time.Hour)
		init.ExpirationDate = &past
	})
	mustCreate(t, store, params.EntityOrganization, "o1", "currency", params.StringValue("FUT"), func(init *state.ParameterInit) {
		init.EffectiveDate = baseTime.Add(time.Hour)
	})
	mustCreate(t, store, params.EntityProgram, "p1", "currency", params.StringValue("EUR"), func(init *state.ParameterInit) {
		init.EffectiveDate = baseTime.Add(-365 * 24 * time.Hour)
	})

	resolved, err := resolver.ResolveParameter(ctx, "currency", "m1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.EntityType != params.EntityProgram || !resolved.Value.Equal(params.StringValue("EUR")) {
		t.Fatalf("expected open-ended program override, got %+v", resolved)
	}

	later := resolver
	later.Now = func() time.Time { return baseTime.Add(2 * time.Hour) }
	resolved, err = later.ResolveParameter(ctx, "currency", "m1")
	if err != nil {
		t.Fatalf("resolve later: %v", err)
	}
	if resolved.EntityType != params.EntityOrganization {
		t.Fatalf("expected scheduled org override once effective, got %+v", resolved)
	}
}

func TestResolveParameterErrors(t *testing.T) {
	ctx := context.Background()
	resolver := newResolver(state.NewMemoryStore())

	if _, err := resolver.ResolveParameter(ctx, "", "m1"); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter for empty name, got %v", err)
	}
	if _, err := resolver.ResolveParameter(ctx, "currency", ""); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter for empty merchant, got %v", err)
	}
	if _, err := resolver.ResolveParameter(ctx, "unknown", "m1"); !errors.Is(err, params.ErrDefinitionNotFound) {
		t.Fatalf("expected definition not found, got %v", err)
	}

	failing := &countingStore{OverrideRepository: state.NewMemoryStore()}
	broken := newResolver(failing)
	broken.Store = failingFinder{failing}
	if _, err := broken.ResolveParameter(ctx, "currency", "m1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected repository failure to propagate, got %v", err)
	}
}

type failingFinder struct{ *countingStore }

func (failingFinder) FindActiveParameter(context.Context, state.Key) (params.ParameterValue, bool, error) {
	return params.ParameterValue{}, false, errBoom
}

func TestResolveParameterUndefinedButOverridden(t *testing.T) {
	store := state.NewMemoryStore()
	mustCreate(t, store, params.EntityBank, "b1", "legacyFlag", params.BoolValue(true))
	resolver := newResolver(store)

	resolved, err := resolver.ResolveParameter(context.Background(), "legacyFlag", "m1")
	if err != nil {
		t.Fatalf("expected override without definition to resolve: %v", err)
	}
	if resolved.EntityType != params.EntityBank {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
}

func TestInheritanceChainDegradesOnDirectoryFailure(t *testing.T) {
	var logs bytes.Buffer
	resolver := newResolver(state.NewMemoryStore())
	resolver.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	resolver.Directory = state.DirectoryFunc(func(context.Context, string) (state.Merchant, error) {
		return state.Merchant{}, errBoom
	})

	chain := resolver.InheritanceChain(context.Background(), "m1")
	if len(chain) != 1 || chain[0].EntityType != params.EntityMerchant || chain[0].EntityID != "m1" {
		t.Fatalf("expected merchant-only chain, got %v", chain)
	}
	if !strings.Contains(logs.String(), "directory lookup failed") {
		t.Fatalf("expected degradation to be logged, got %q", logs.String())
	}
	if _, degraded := resolver.InheritanceChainWithStatus(context.Background(), "m1"); !degraded {
		t.Fatalf("expected directory failure to be reported as degraded")
	}
	if _, degraded := newResolver(state.NewMemoryStore()).InheritanceChainWithStatus(context.Background(), "m1"); degraded {
		t.Fatalf("expected a full chain from a healthy directory")
	}

	unknown := newResolver(state.NewMemoryStore())
	unknown.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if chain := unknown.InheritanceChain(context.Background(), "nobody"); len(chain) != 1 {
		t.Fatalf("expected unknown merchant to degrade, got %v", chain)
	}
}

func TestInheritanceChainSkipsMissingTiers(t *testing.T) {
	chain := newResolver(state.NewMemoryStore()).InheritanceChain(context.Background(), "m3")
	want := params.InheritanceChain{
		{EntityType: params.EntityMerchant, EntityID: "m3"},
		{EntityType: params.EntityBank, EntityID: "b1"},
	}
	if !reflect.DeepEqual(chain, want) {
		t.Fatalf("expected %v, got %v", want, chain)
	}
}

func TestResolveMultipleMatchesIndividualResolution(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	mustCreate(t, store, params.EntityMerchant, "m1", "currency", params.StringValue("CAD"))
	mustCreate(t, store, params.EntityProgram, "p1", "maxRefundAmount", params.NumberValue(500))
	mustCreate(t, store, params.EntityBank, "b1", "instantPayouts", params.BoolValue(true))
	mustCreate(t, store, params.EntityBank, "b1", "currency", params.StringValue("EUR"))

	counting := &countingStore{OverrideRepository: store}
	resolver := newResolver(counting)
	resolver.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	names := []string{"currency", "maxRefundAmount", "instantPayouts", "currency", "unknown"}
	for _, merchantID := range []string{"m1", "m2", "m3", "m404"} {
		batch, err := resolver.ResolveMultipleParameters(ctx, names, merchantID)
		if err != nil {
			t.Fatalf("batch %s: %v", merchantID, err)
		}
		if _, ok := batch["unknown"]; ok {
			t.Fatalf("expected undefined name to be skipped")
		}
		if len(batch) != 3 {
			t.Fatalf("expected three resolved names for %s, got %d", merchantID, len(batch))
		}
		for name, got := range batch {
			want, err := resolver.ResolveParameter(ctx, name, merchantID)
			if err != nil {
				t.Fatalf("single %s/%s: %v", merchantID, name, err)
			}
			if !got.Value.Equal(want.Value) || got.EntityType != want.EntityType || got.EntityID != want.EntityID {
				t.Fatalf("%s/%s: batch %+v differs from single %+v", merchantID, name, got, want)
			}
		}
	}
}

func TestResolveMultipleStopsOnceResolved(t *testing.T) {
	store := state.NewMemoryStore()
	mustCreate(t, store, params.EntityMerchant, "m1", "currency", params.StringValue("CAD"))
	counting := &countingStore{OverrideRepository: store}
	resolver := newResolver(counting)

	if _, err := resolver.ResolveMultipleParameters(context.Background(), []string{"currency"}, "m1"); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if got := counting.bulkReads.Load(); got != 1 {
		t.Fatalf("expected a single bulk read, got %d", got)
	}
	if got := counting.singleReads.Load(); got != 0 {
		t.Fatalf("expected no per-name reads, got %d", got)
	}
}

func TestResolveMultiplePropagatesRepositoryFailure(t *testing.T) {
	counting := &countingStore{OverrideRepository: state.NewMemoryStore(), failBulk: errBoom}
	resolver := newResolver(counting)
	if _, err := resolver.ResolveMultipleParameters(context.Background(), []string{"currency"}, "m1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
}

func TestGetEffectiveParameters(t *testing.T) {
	store := state.NewMemoryStore()
	mustCreate(t, store, params.EntityProgram, "p1", "maxRefundAmount", params.NumberValue(500))
	mustCreate(t, store, params.EntityBank, "b1", "maxRefundAmount", params.NumberValue(100))
	mustCreate(t, store, params.EntityOrganization, "o1", "currency", params.StringValue("EUR"))
	mustCreate(t, store, params.EntityBank, "b1", "settlementDelay", params.NumberValue(2))
	resolver := newResolver(store)

	effective, err := resolver.GetEffectiveParameters(context.Background(), "m1")
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if len(effective) != 4 {
		t.Fatalf("expected 4 parameters, got %d: %v", len(effective), effective)
	}
	if got := effective["maxRefundAmount"]; got.EntityType != params.EntityProgram {
		t.Fatalf("expected program to shadow bank, got %+v", got)
	}
	if got := effective["currency"]; got.EntityType != params.EntityOrganization {
		t.Fatalf("expected org currency, got %+v", got)
	}
	if got := effective["instantPayouts"]; got.Overridden || got.EntityID != params.DefaultEntityID {
		t.Fatalf("expected default instantPayouts, got %+v", got)
	}
	if got := effective["settlementDelay"]; got.EntityType != params.EntityBank {
		t.Fatalf("expected undefined bank override to be included, got %+v", got)
	}

	// Merchant m2 shares program p1 but not organization o1.
	effective, err = resolver.GetEffectiveParameters(context.Background(), "m2")
	if err != nil {
		t.Fatalf("effective m2: %v", err)
	}
	if got := effective["currency"]; got.Overridden {
		t.Fatalf("expected default currency for m2, got %+v", got)
	}
}

func TestResolveWithTrace(t *testing.T) {
	store := state.NewMemoryStore()
	mustCreate(t, store, params.EntityProgram, "p1", "maxRefundAmount", params.NumberValue(500))
	mustCreate(t, store, params.EntityBank, "b1", "maxRefundAmount", params.NumberValue(100))
	resolver := newResolver(store)

	value, trace, err := resolver.ResolveWithTrace(context.Background(), "maxRefundAmount", "m1")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if value.EntityType != params.EntityProgram {
		t.Fatalf("expected program value, got %+v", value)
	}
	if len(trace.Levels) != 5 {
		t.Fatalf("expected 4 levels plus default, got %d", len(trace.Levels))
	}
	wantFound := []bool{false, false, true, true, true}
	wantApplied := []bool{false, false, true, false, false}
	for i := range trace.Levels {
		if trace.Levels[i].Found != wantFound[i] || trace.Levels[i].Applied != wantApplied[i] {
			t.Fatalf("level %d (%s): found=%v applied=%v", i, trace.Levels[i].Level, trace.Levels[i].Found, trace.Levels[i].Applied)
		}
	}
	if trace.Degraded {
		t.Fatalf("did not expect degraded chain")
	}

	_, _, err = resolver.ResolveWithTrace(context.Background(), "unknown", "m1")
	if !errors.Is(err, params.ErrNotFound) {
		t.Fatalf("expected not found for unknown parameter, got %v", err)
	}
}
