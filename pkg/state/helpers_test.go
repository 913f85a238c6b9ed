package state_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return baseTime }
}

// definitionMap is a DefinitionSource backed by a plain map.
type definitionMap map[string]params.ParameterDefinition

func (m definitionMap) Get(_ context.Context, name string) (params.ParameterDefinition, error) {
	def, ok := m[name]
	if !ok {
		return params.ParameterDefinition{}, fmt.Errorf("%w: %q", params.ErrDefinitionNotFound, name)
	}
	return def, nil
}

func (m definitionMap) GetAll(context.Context) ([]params.ParameterDefinition, error) {
	out := make([]params.ParameterDefinition, 0, len(m))
	for _, def := range m {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func sampleDefinitions() definitionMap {
	return definitionMap{
		"maxRefundAmount": params.NewDefinition("maxRefundAmount", params.DataTypeDecimal, params.NumberValue(10000)),
		"currency":        params.NewDefinition("currency", params.DataTypeString, params.StringValue("USD")),
		"instantPayouts":  params.NewDefinition("instantPayouts", params.DataTypeBoolean, params.BoolValue(false)),
	}
}

func sampleDirectory() *state.MemoryDirectory {
	return state.NewMemoryDirectory(
		state.Merchant{ID: "m1", OrganizationID: "o1", ProgramID: "p1", BankID: "b1"},
		state.Merchant{ID: "m2", OrganizationID: "o2", ProgramID: "p1", BankID: "b1"},
		state.Merchant{ID: "m3", BankID: "b1"},
	)
}

// countingStore wraps an OverrideRepository and counts reads.
type countingStore struct {
	state.OverrideRepository
	singleReads atomic.Int32
	bulkReads   atomic.Int32
	failBulk    error
}

func (s *countingStore) FindActiveParameter(ctx context.Context, key state.Key) (params.ParameterValue, bool, error) {
	s.singleReads.Add(1)
	return s.OverrideRepository.FindActiveParameter(ctx, key)
}

func (s *countingStore) FindParametersByEntity(ctx context.Context, entityType params.EntityType, entityID string) ([]params.ParameterValue, error) {
	s.bulkReads.Add(1)
	if s.failBulk != nil {
		return nil, s.failBulk
	}
	return s.OverrideRepository.FindParametersByEntity(ctx, entityType, entityID)
}

func mustCreate(t *testing.T, store state.OverrideRepository, entityType params.EntityType, entityID, name string, value params.Value, opts ...func(*state.ParameterInit)) params.ParameterValue {
	t.Helper()
	init := state.ParameterInit{
		Key:           state.NewKey(entityType, entityID, name),
		Value:         value,
		EffectiveDate: baseTime.Add(-time.Hour),
		CreatedBy:     "tester",
	}
	for _, opt := range opts {
		opt(&init)
	}
	record, err := store.CreateParameter(context.Background(), init)
	if err != nil {
		t.Fatalf("create %s/%s %s: %v", entityType, entityID, name, err)
	}
	return record
}

var errBoom = errors.New("boom")
