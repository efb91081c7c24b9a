package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecordIfChanged is the sole writer of price-trajectory data.
//
// Rules, in order:
//   - no prior history for the lot: write exactly one baseline entry with
//     PreviousBid nil, whatever the amount is, and return it;
//   - newBid equal to oldBid (strict equality on the monetary value, nil ==
//     nil): write nothing — an end-date extension on its own is never
//     recorded;
//   - the latest stored entry already records this exact transition: write
//     nothing (idempotence against double calls);
//   - otherwise append an entry carrying the end date as a secondary field
//     and move the listing's LastChangedAt.
func RecordIfChanged(ctx context.Context, db *gorm.DB, lotNumber string, oldBid, newBid *decimal.Decimal, endDate *time.Time, source string) (*models.PriceHistory, error) {
	latest, err := models.LatestPriceHistory(ctx, db, lotNumber)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}

	if latest == nil {
		entry := &models.PriceHistory{
			LotNumber:   lotNumber,
			PreviousBid: nil,
			NewBid:      amountOrZero(newBid),
			EndDate:     endDate,
			Source:      source,
			RecordedAt:  time.Now(),
		}
		if err := models.CreatePriceHistory(ctx, db, entry); err != nil {
			return nil, err
		}
		return entry, nil
	}

	if amountsEqual(oldBid, newBid) {
		return nil, nil
	}
	if latest.NewBid.Equal(amountOrZero(newBid)) && amountsEqual(latest.PreviousBid, oldBid) {
		return nil, nil
	}

	entry := &models.PriceHistory{
		LotNumber:   lotNumber,
		PreviousBid: oldBid,
		NewBid:      amountOrZero(newBid),
		EndDate:     endDate,
		Source:      source,
		RecordedAt:  time.Now(),
	}
	if err := models.CreatePriceHistory(ctx, db, entry); err != nil {
		return nil, err
	}
	if err := models.TouchLastChanged(ctx, db, lotNumber, entry.RecordedAt); err != nil {
		return nil, err
	}
	return entry, nil
}

func amountsEqual(a, b *decimal.Decimal) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func amountOrZero(a *decimal.Decimal) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return *a
}
