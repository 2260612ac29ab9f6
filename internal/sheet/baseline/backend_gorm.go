package baseline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/archsheet-backend/internal/domain"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
)

// GormBackend stores bundles as JSON documents in the baseline_records
// table. This is the durable backend; it survives process restarts.
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

func (g *GormBackend) Put(ctx context.Context, key string, value []byte) error {
	designID, sheetID := splitKey(key)
	row := domain.BaselineRecord{
		Key:      key,
		DesignID: designID,
		SheetID:  sheetID,
		Bundle:   datatypes.JSON(value),
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"bundle"}),
		}).
		Create(&row).Error
}

func (g *GormBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var row domain.BaselineRecord
	err := g.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline record: %w", err)
	}
	return []byte(row.Bundle), nil
}

func (g *GormBackend) Delete(ctx context.Context, key string) (bool, error) {
	res := g.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.BaselineRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// splitKey recovers designID/sheetID from "<design>_<sheet>_baseline".
// Design IDs may themselves contain underscores; the sheet segment is the
// second-to-last.
func splitKey(key string) (string, string) {
	trimmed := strings.TrimSuffix(key, "_baseline")
	idx := strings.LastIndex(trimmed, "_")
	if idx <= 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx+1:]
}
