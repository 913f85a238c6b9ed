package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	params "github.com/goliatone/go-params"
)

// MemoryStore is an in-memory Repository intended for tests, examples and
// local runs. Every version of every override is retained.
type MemoryStore struct {
	mu          sync.RWMutex
	overrides   map[params.ChainLevel]map[string][]params.ParameterValue
	definitions map[string]params.ParameterDefinition
	now         func() time.Time
	newID       func() string
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithStoreClock overrides the clock used for audit timestamps.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		overrides:   map[params.ChainLevel]map[string][]params.ParameterValue{},
		definitions: map[string]params.ParameterDefinition{},
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) FindActiveParameter(ctx context.Context, key Key) (params.ParameterValue, bool, error) {
	if err := ctx.Err(); err != nil {
		return params.ParameterValue{}, false, err
	}
	if err := key.Validate(); err != nil {
		return params.ParameterValue{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	current, ok := s.current(key)
	if !ok {
		return params.ParameterValue{}, false, nil
	}
	return current.Clone(), true, nil
}

func (s *MemoryStore) FindParametersByEntity(ctx context.Context, entityType params.EntityType, entityID string) ([]params.ParameterValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	level := params.ChainLevel{EntityType: entityType, EntityID: entityID}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.overrides[level]))
	for name := range s.overrides[level] {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]params.ParameterValue, 0, len(names))
	for _, name := range names {
		if current, ok := s.current(NewKey(entityType, entityID, name)); ok {
			out = append(out, current.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateParameter(ctx context.Context, init ParameterInit) (params.ParameterValue, error) {
	if err := ctx.Err(); err != nil {
		return params.ParameterValue{}, err
	}
	if err := init.Key.Validate(); err != nil {
		return params.ParameterValue{}, err
	}
	if init.Value.IsZero() {
		return params.ParameterValue{}, fmt.Errorf("%w: value is required", params.ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.current(init.Key); ok {
		return params.ParameterValue{}, fmt.Errorf("%w: %s already has version %d", params.ErrVersionConflict, describeKey(init.Key), current.Version)
	}
	now := s.now()
	effective := init.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	record := params.ParameterValue{
		ID:             s.newID(),
		EntityType:     init.EntityType,
		EntityID:       init.EntityID,
		ParameterName:  init.Parameter,
		Value:          init.Value,
		EffectiveDate:  effective,
		ExpirationDate: cloneTime(init.ExpirationDate),
		Overridden:     true,
		Version:        s.latestVersion(init.Key) + 1,
		State:          params.StateActive,
		CreatedBy:      init.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.append(init.Key, record)
	return record.Clone(), nil
}

func (s *MemoryStore) UpdateParameter(ctx context.Context, key Key, patch ParameterPatch) (params.ParameterValue, error) {
	if err := ctx.Err(); err != nil {
		return params.ParameterValue{}, err
	}
	if err := key.Validate(); err != nil {
		return params.ParameterValue{}, err
	}
	if patch.Value.IsZero() {
		return params.ParameterValue{}, fmt.Errorf("%w: value is required", params.ErrInvalidParameter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.overrides[key.Level()][key.Parameter]
	idx := currentIndex(history)
	if idx < 0 {
		return params.ParameterValue{}, fmt.Errorf("%w: no current override for %s", params.ErrNotFound, describeKey(key))
	}
	previous := history[idx]
	if patch.ExpectedVersion > 0 && previous.Version != patch.ExpectedVersion {
		return params.ParameterValue{}, fmt.Errorf("%w: %s expected version %d, found %d", params.ErrVersionConflict, describeKey(key), patch.ExpectedVersion, previous.Version)
	}

	now := s.now()
	history[idx].State = params.StateSuperseded
	history[idx].UpdatedAt = now

	effective := patch.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	createdBy := patch.UpdatedBy
	if createdBy == "" {
		createdBy = previous.CreatedBy
	}
	record := params.ParameterValue{
		ID:             s.newID(),
		EntityType:     key.EntityType,
		EntityID:       key.EntityID,
		ParameterName:  key.Parameter,
		Value:          patch.Value,
		EffectiveDate:  effective,
		ExpirationDate: cloneTime(patch.ExpirationDate),
		Overridden:     true,
		Version:        s.latestVersion(key) + 1,
		State:          params.StateActive,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.append(key, record)
	return record.Clone(), nil
}

func (s *MemoryStore) DeleteParameter(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := key.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.overrides[key.Level()][key.Parameter]
	idx := currentIndex(history)
	if idx < 0 {
		return false, nil
	}
	history[idx].State = params.StateDeleted
	history[idx].UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) FindParameterHistory(ctx context.Context, key Key) ([]params.ParameterValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.overrides[key.Level()][key.Parameter]
	out := make([]params.ParameterValue, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i].Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetAllParameterDefinitions(ctx context.Context) ([]params.ParameterDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]params.ParameterDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SaveParameterDefinition(ctx context.Context, def params.ParameterDefinition) (params.ParameterDefinition, error) {
	if err := ctx.Err(); err != nil {
		return params.ParameterDefinition{}, err
	}
	if def.Name == "" {
		return params.ParameterDefinition{}, fmt.Errorf("%w: definition name is required", params.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.definitions[def.Name]; ok {
		def.CreatedAt = existing.CreatedAt
	} else if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.definitions[def.Name] = def.Clone()
	return def.Clone(), nil
}

func (s *MemoryStore) FindParameterDefinition(ctx context.Context, name string) (params.ParameterDefinition, bool, error) {
	if err := ctx.Err(); err != nil {
		return params.ParameterDefinition{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[name]
	if !ok {
		return params.ParameterDefinition{}, false, nil
	}
	return def.Clone(), true, nil
}

// current must be called with the lock held.
func (s *MemoryStore) current(key Key) (params.ParameterValue, bool) {
	history := s.overrides[key.Level()][key.Parameter]
	idx := currentIndex(history)
	if idx < 0 {
		return params.ParameterValue{}, false
	}
	return history[idx], true
}

func (s *MemoryStore) latestVersion(key Key) int {
	latest := 0
	for _, record := range s.overrides[key.Level()][key.Parameter] {
		if record.Version > latest {
			latest = record.Version
		}
	}
	return latest
}

func (s *MemoryStore) append(key Key, record params.ParameterValue) {
	level := key.Level()
	if s.overrides[level] == nil {
		s.overrides[level] = map[string][]params.ParameterValue{}
	}
	s.overrides[level][key.Parameter] = append(s.overrides[level][key.Parameter], record)
}

func currentIndex(history []params.ParameterValue) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].State == params.StateActive {
			return i
		}
	}
	return -1
}

func describeKey(key Key) string {
	return fmt.Sprintf("%s/%s %q", key.EntityType, key.EntityID, key.Parameter)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
