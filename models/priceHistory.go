package models

import (
	"context"
	"errors"
	"time"

	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceHistory is append-only. PreviousBid == nil marks the baseline row, the
// first-ever record for a lot. Rows are never mutated; the only deletion path
// is the retention sweep, which keeps each lot's oldest and newest row.
type PriceHistory struct {
	ID          int              `gorm:"primary_key" json:"id"`
	LotNumber   string           `gorm:"size:40;index:idx_price_histories_lot_recorded;not null" json:"lot_number"`
	PreviousBid *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"previous_bid"`
	NewBid      decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"new_bid"`
	EndDate     *time.Time       `gorm:"default:null" json:"end_date"`
	Source      string           `gorm:"size:40" json:"source"`
	RecordedAt  time.Time        `gorm:"index:idx_price_histories_lot_recorded;not null" json:"recorded_at"`
}

// LatestPriceHistory returns the newest entry for a lot, or
// utils.ErrorRecordNotFound when the lot has no history yet.
func LatestPriceHistory(ctx context.Context, db *gorm.DB, lotNumber string) (*PriceHistory, error) {
	var entry PriceHistory
	err := db.WithContext(ctx).
		Where("lot_number = ?", lotNumber).
		Order("recorded_at DESC, id DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func CreatePriceHistory(ctx context.Context, db *gorm.DB, entry *PriceHistory) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	return db.WithContext(ctx).Create(entry).Error
}

func ListPriceHistory(ctx context.Context, db *gorm.DB, lotNumber string, limit, offset int) ([]PriceHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []PriceHistory
	err := db.WithContext(ctx).
		Where("lot_number = ?", lotNumber).
		Order("recorded_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, err
}
