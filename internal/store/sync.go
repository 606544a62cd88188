package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "github.com/0xredeth/doneth/pkg/store"
)

// GetSyncStatus returns the checkpoint for indexer, or nil if it has never
// committed a batch.
func (s *Store) GetSyncStatus(ctx context.Context, indexer string) (*models.SyncStatus, error) {
	var st models.SyncStatus
	err := s.db.WithContext(ctx).Where("indexer = ?", indexer).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting sync status: %w", err)
	}
	return &st, nil
}

// SaveSyncStatus upserts the checkpoint inside tx so it commits with the
// batch that produced it.
func SaveSyncStatus(tx *gorm.DB, indexer string, number uint64, hash string) error {
	st := models.SyncStatus{
		Indexer:         indexer,
		LastBlockNumber: number,
		LastBlockHash:   hash,
		UpdatedAt:       time.Now().UTC(),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "indexer"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block_number", "last_block_hash", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("saving sync status: %w", err)
	}
	return nil
}

// GetMeta returns the value stored under key and whether it exists.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var m models.IndexerMeta
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting meta %s: %w", key, err)
	}
	return m.Value, true, nil
}

// SetMeta upserts key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	m := models.IndexerMeta{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("setting meta %s: %w", key, err)
	}
	return nil
}
