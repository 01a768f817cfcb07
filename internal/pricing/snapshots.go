package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/stellarpay/internal/models"
)

// GormSnapshotStore keeps last-known-good prices in the price_snapshots
// table.
type GormSnapshotStore struct {
	db *gorm.DB
}

// NewGormSnapshotStore returns a store backed by the given database.
func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

func (s *GormSnapshotStore) Load(ctx context.Context, code string) (decimal.Decimal, bool, error) {
	var snap models.PriceSnapshot
	err := s.db.WithContext(ctx).Where("asset_code = ?", code).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return snap.PriceUSD, true, nil
}

func (s *GormSnapshotStore) Save(ctx context.Context, code string, price decimal.Decimal) error {
	snap := models.PriceSnapshot{AssetCode: code, PriceUSD: price}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"price_usd", "updated_at"}),
		}).
		Create(&snap).Error
}
