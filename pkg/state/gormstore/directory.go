package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/state"
)

func (s *Store) GetMerchant(ctx context.Context, merchantID string) (state.Merchant, error) {
	var record merchantRecord
	err := s.db.WithContext(ctx).Where("id = ?", merchantID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.Merchant{}, fmt.Errorf("%w: %q", state.ErrMerchantNotFound, merchantID)
	}
	if err != nil {
		return state.Merchant{}, fmt.Errorf("gormstore: find merchant %q: %w", merchantID, err)
	}
	return record.toMerchant(), nil
}

// PutMerchant stores or replaces a merchant record.
func (s *Store) PutMerchant(ctx context.Context, merchant state.Merchant) error {
	if merchant.ID == "" {
		return fmt.Errorf("%w: merchant id is required", params.ErrInvalidParameter)
	}
	record := newMerchantRecord(merchant)
	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "organization_id", "program_id", "bank_id", "metadata", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("gormstore: put merchant %q: %w", merchant.ID, err)
	}
	return nil
}

// Merchants lists every merchant ordered by id.
func (s *Store) Merchants(ctx context.Context) ([]state.Merchant, error) {
	var records []merchantRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list merchants: %w", err)
	}
	out := make([]state.Merchant, 0, len(records))
	for _, record := range records {
		out = append(out, record.toMerchant())
	}
	return out, nil
}
