package registry_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/registry"
	"github.com/goliatone/go-params/pkg/state"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func refundDefinition() params.ParameterDefinition {
	return params.NewDefinition("maxRefundAmount", params.DataTypeDecimal, params.NumberValue(10000),
		params.WithRules(params.Range(0, 50000)))
}

// countingRepo counts repository lookups.
type countingRepo struct {
	*state.MemoryStore
	mu    sync.Mutex
	finds int
}

func (r *countingRepo) FindParameterDefinition(ctx context.Context, name string) (params.ParameterDefinition, bool, error) {
	r.mu.Lock()
	r.finds++
	r.mu.Unlock()
	return r.MemoryStore.FindParameterDefinition(ctx, name)
}

func TestLoadSkipsInvalidDefinitions(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	if _, err := store.SaveParameterDefinition(ctx, refundDefinition()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	broken := params.NewDefinition("currency", params.DataTypeString, params.StringValue("usd"), params.WithRules(params.Pattern(`^[A-Z]{3}$`)))
	if _, err := store.SaveParameterDefinition(ctx, broken); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var logs bytes.Buffer
	reg := registry.New(store, registry.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	err := reg.Load(ctx)
	if err == nil {
		t.Fatalf("expected load to report the invalid definition")
	}
	if !errors.Is(err, params.ErrValidationFailed) {
		t.Fatalf("expected validation failure in aggregate, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected valid definition to stay loaded, got %d", reg.Len())
	}
	if _, ok := reg.Lookup("currency"); ok {
		t.Fatalf("invalid definition must not be loaded")
	}
	if !strings.Contains(logs.String(), "skipping invalid parameter definition") {
		t.Fatalf("expected skip to be logged, got %q", logs.String())
	}
}

func TestGetReadsThroughAndCaches(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{MemoryStore: state.NewMemoryStore()}
	if _, err := repo.SaveParameterDefinition(ctx, refundDefinition()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg := registry.New(repo, registry.WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		def, err := reg.Get(ctx, "maxRefundAmount")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if def.DataType != params.DataTypeDecimal {
			t.Fatalf("unexpected definition %+v", def)
		}
	}
	if repo.finds != 1 {
		t.Fatalf("expected one repository read, got %d", repo.finds)
	}

	if _, err := reg.Get(ctx, "missing"); !errors.Is(err, params.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := reg.Get(ctx, ""); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter for empty name, got %v", err)
	}
}

func TestSaveRejectsInvalidDefault(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	reg := registry.New(store, registry.WithLogger(quietLogger()))

	bad := params.NewDefinition("maxRefundAmount", params.DataTypeDecimal, params.NumberValue(-5), params.WithRules(params.Min(0)))
	if _, err := reg.Save(ctx, bad); !errors.Is(err, params.ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if _, ok, _ := store.FindParameterDefinition(ctx, "maxRefundAmount"); ok {
		t.Fatalf("invalid definition must not be persisted")
	}
}

func TestSaveReplacesEntry(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(state.NewMemoryStore(), registry.WithLogger(quietLogger()))

	if _, err := reg.Save(ctx, refundDefinition()); err != nil {
		t.Fatalf("save: %v", err)
	}
	updated := refundDefinition()
	updated.DefaultValue = params.NumberValue(2500)
	updated.Description = "lowered"
	saved, err := reg.Save(ctx, updated)
	if err != nil {
		t.Fatalf("save update: %v", err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatalf("expected repository timestamps on saved definition")
	}

	got, ok := reg.Lookup("maxRefundAmount")
	if !ok || got.Description != "lowered" || !got.DefaultValue.Equal(params.NumberValue(2500)) {
		t.Fatalf("expected replaced entry, got %+v", got)
	}

	all, err := reg.GetAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one definition, got %d (%v)", len(all), err)
	}
}

func TestGetAllLoadsLazilyAndSorts(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	for _, def := range []params.ParameterDefinition{
		params.NewDefinition("zeta", params.DataTypeBoolean, params.BoolValue(true)),
		params.NewDefinition("alpha", params.DataTypeString, params.StringValue("a")),
	} {
		if _, err := store.SaveParameterDefinition(ctx, def); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	reg := registry.New(store, registry.WithLogger(quietLogger()))

	all, err := reg.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "zeta" {
		t.Fatalf("unexpected definitions %+v", all)
	}
}

func TestValidateUsesConfiguredValidator(t *testing.T) {
	validator, err := params.NewValidator(params.WithCustomFunction("isUpper", func(args ...any) (any, error) {
		s, _ := args[0].(string)
		return s == strings.ToUpper(s), nil
	}))
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	reg := registry.New(state.NewMemoryStore(), registry.WithValidator(validator), registry.WithLogger(quietLogger()))
	def := params.NewDefinition("currency", params.DataTypeString, params.StringValue("USD"), params.WithRules(params.Expression("isUpper(value)", "")))

	if result := reg.Validate(def, params.StringValue("EUR")); !result.Valid {
		t.Fatalf("expected valid, got %+v", result)
	}
	if result := reg.Validate(def, params.StringValue("eur")); result.Valid {
		t.Fatalf("expected invalid")
	}
}

func TestConcurrentReadsDuringSave(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(state.NewMemoryStore(), registry.WithLogger(quietLogger()))
	if _, err := reg.Save(ctx, refundDefinition()); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := reg.Get(ctx, "maxRefundAmount"); err != nil {
					t.Errorf("get: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		def := refundDefinition()
		def.DefaultValue = params.NumberValue(float64(1000 + i))
		if _, err := reg.Save(ctx, def); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	wg.Wait()
}
