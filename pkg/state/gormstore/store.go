// Package gormstore persists definitions, overrides and the merchant directory
// with gorm. Postgres is the production target; sqlite backs local runs and
// tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to dsn with the named driver. Duplicate key violations are
// translated to gorm.ErrDuplicatedKey so version races surface as conflicts.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open %s: %w", driver, err)
	}
	return db, nil
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store implements state.Repository and state.Directory.
type Store struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() string
}

var (
	_ state.Repository = (*Store)(nil)
	_ state.Directory  = (*Store)(nil)
)

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate creates or updates the tables used by the store.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&definitionRecord{}, &overrideRecord{}, &merchantRecord{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

func slot(db *gorm.DB, key state.Key) *gorm.DB {
	return db.Where("entity_type = ? AND entity_id = ? AND parameter_name = ?",
		string(key.EntityType), key.EntityID, key.Parameter)
}

func (s *Store) current(tx *gorm.DB, key state.Key) (overrideRecord, bool, error) {
	var record overrideRecord
	err := slot(tx, key).
		Where("state = ?", string(params.StateActive)).
		Order("version DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return overrideRecord{}, false, nil
	}
	if err != nil {
		return overrideRecord{}, false, err
	}
	return record, true, nil
}

func (s *Store) latestVersion(tx *gorm.DB, key state.Key) (int, error) {
	var latest int
	err := slot(tx.Model(&overrideRecord{}), key).
		Select("COALESCE(MAX(version), 0)").
		Scan(&latest).Error
	return latest, err
}

func (s *Store) FindActiveParameter(ctx context.Context, key state.Key) (params.ParameterValue, bool, error) {
	if err := key.Validate(); err != nil {
		return params.ParameterValue{}, false, err
	}
	record, ok, err := s.current(s.db.WithContext(ctx), key)
	if err != nil {
		return params.ParameterValue{}, false, fmt.Errorf("gormstore: find %s: %w", describeKey(key), err)
	}
	if !ok {
		return params.ParameterValue{}, false, nil
	}
	value, err := record.toParameterValue()
	if err != nil {
		return params.ParameterValue{}, false, err
	}
	return value, true, nil
}

func (s *Store) FindParametersByEntity(ctx context.Context, entityType params.EntityType, entityID string) ([]params.ParameterValue, error) {
	var records []overrideRecord
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND state = ?", string(entityType), entityID, string(params.StateActive)).
		Order("parameter_name ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: find parameters at %s/%s: %w", entityType, entityID, err)
	}
	return toParameterValues(records)
}

func (s *Store) CreateParameter(ctx context.Context, init state.ParameterInit) (params.ParameterValue, error) {
	if err := init.Key.Validate(); err != nil {
		return params.ParameterValue{}, err
	}
	if init.Value.IsZero() {
		return params.ParameterValue{}, fmt.Errorf("%w: value is required", params.ErrInvalidParameter)
	}
	payload, err := encodeValue(init.Value)
	if err != nil {
		return params.ParameterValue{}, err
	}

	now := s.now()
	effective := init.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	record := overrideRecord{
		ID:             s.newID(),
		EntityType:     string(init.EntityType),
		EntityID:       init.EntityID,
		ParameterName:  init.Parameter,
		DataType:       string(init.Value.Type()),
		Value:          payload,
		EffectiveDate:  effective,
		ExpirationDate: init.ExpirationDate,
		State:          string(params.StateActive),
		CreatedBy:      init.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, ok, err := s.current(tx, init.Key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %s already has version %d", params.ErrVersionConflict, describeKey(init.Key), current.Version)
		}
		latest, err := s.latestVersion(tx, init.Key)
		if err != nil {
			return err
		}
		record.Version = latest + 1
		return tx.Create(&record).Error
	})
	if err != nil {
		return params.ParameterValue{}, s.writeError("create", init.Key, err)
	}
	return record.toParameterValue()
}

func (s *Store) UpdateParameter(ctx context.Context, key state.Key, patch state.ParameterPatch) (params.ParameterValue, error) {
	if err := key.Validate(); err != nil {
		return params.ParameterValue{}, err
	}
	if patch.Value.IsZero() {
		return params.ParameterValue{}, fmt.Errorf("%w: value is required", params.ErrInvalidParameter)
	}
	payload, err := encodeValue(patch.Value)
	if err != nil {
		return params.ParameterValue{}, err
	}

	var record overrideRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, ok, err := s.current(tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: no current override for %s", params.ErrNotFound, describeKey(key))
		}
		if patch.ExpectedVersion > 0 && previous.Version != patch.ExpectedVersion {
			return fmt.Errorf("%w: %s expected version %d, found %d",
				params.ErrVersionConflict, describeKey(key), patch.ExpectedVersion, previous.Version)
		}

		now := s.now()
		superseded := tx.Model(&overrideRecord{}).
			Where("id = ? AND state = ?", previous.ID, string(params.StateActive)).
			Updates(map[string]any{"state": string(params.StateSuperseded), "updated_at": now})
		if superseded.Error != nil {
			return superseded.Error
		}
		if superseded.RowsAffected == 0 {
			return fmt.Errorf("%w: %s changed concurrently", params.ErrVersionConflict, describeKey(key))
		}

		latest, err := s.latestVersion(tx, key)
		if err != nil {
			return err
		}
		effective := patch.EffectiveDate
		if effective.IsZero() {
			effective = now
		}
		createdBy := patch.UpdatedBy
		if createdBy == "" {
			createdBy = previous.CreatedBy
		}
		record = overrideRecord{
			ID:             s.newID(),
			EntityType:     string(key.EntityType),
			EntityID:       key.EntityID,
			ParameterName:  key.Parameter,
			Version:        latest + 1,
			DataType:       string(patch.Value.Type()),
			Value:          payload,
			EffectiveDate:  effective,
			ExpirationDate: patch.ExpirationDate,
			State:          string(params.StateActive),
			CreatedBy:      createdBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return params.ParameterValue{}, s.writeError("update", key, err)
	}
	return record.toParameterValue()
}

func (s *Store) DeleteParameter(ctx context.Context, key state.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	result := slot(s.db.WithContext(ctx).Model(&overrideRecord{}), key).
		Where("state = ?", string(params.StateActive)).
		Updates(map[string]any{"state": string(params.StateDeleted), "updated_at": s.now()})
	if result.Error != nil {
		return false, fmt.Errorf("gormstore: delete %s: %w", describeKey(key), result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) FindParameterHistory(ctx context.Context, key state.Key) ([]params.ParameterValue, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var records []overrideRecord
	if err := slot(s.db.WithContext(ctx), key).Order("version DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("gormstore: history %s: %w", describeKey(key), err)
	}
	return toParameterValues(records)
}

func (s *Store) GetAllParameterDefinitions(ctx context.Context) ([]params.ParameterDefinition, error) {
	var records []definitionRecord
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list definitions: %w", err)
	}
	out := make([]params.ParameterDefinition, 0, len(records))
	for _, record := range records {
		def, err := record.toDefinition()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// SaveParameterDefinition upserts def by name, keeping the original creation
// time of an existing row.
func (s *Store) SaveParameterDefinition(ctx context.Context, def params.ParameterDefinition) (params.ParameterDefinition, error) {
	if def.Name == "" {
		return params.ParameterDefinition{}, fmt.Errorf("%w: definition name is required", params.ErrInvalidParameter)
	}
	now := s.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	record, err := newDefinitionRecord(def)
	if err != nil {
		return params.ParameterDefinition{}, err
	}

	var saved definitionRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "data_type", "default_value", "validation_rules",
				"overridable", "category", "sensitivity", "audit_required", "updated_at",
			}),
		}).Create(&record)
		if upsert.Error != nil {
			return upsert.Error
		}
		return tx.Where("name = ?", def.Name).Take(&saved).Error
	})
	if err != nil {
		return params.ParameterDefinition{}, fmt.Errorf("gormstore: save definition %q: %w", def.Name, err)
	}
	return saved.toDefinition()
}

func (s *Store) FindParameterDefinition(ctx context.Context, name string) (params.ParameterDefinition, bool, error) {
	var record definitionRecord
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return params.ParameterDefinition{}, false, nil
	}
	if err != nil {
		return params.ParameterDefinition{}, false, fmt.Errorf("gormstore: find definition %q: %w", name, err)
	}
	def, err := record.toDefinition()
	if err != nil {
		return params.ParameterDefinition{}, false, err
	}
	return def, true, nil
}

func (s *Store) writeError(op string, key state.Key, err error) error {
	switch {
	case errors.Is(err, params.ErrVersionConflict), errors.Is(err, params.ErrNotFound):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s written concurrently", params.ErrVersionConflict, describeKey(key))
	default:
		return fmt.Errorf("gormstore: %s %s: %w", op, describeKey(key), err)
	}
}

func describeKey(key state.Key) string {
	return fmt.Sprintf("%s/%s %q", key.EntityType, key.EntityID, key.Parameter)
}
