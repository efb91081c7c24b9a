package models

import (
	"context"
	"errors"
	"time"

	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Listing is the current known state of one auction lot. LotNumber is the
// portal's stable identifier and never changes once the row exists.
type Listing struct {
	ID           int              `gorm:"primary_key" json:"id"`
	LotNumber    string           `gorm:"size:40;uniqueIndex;not null" json:"lot_number"`
	Category     ListingCategory  `gorm:"type:enum('RE','VE','OT');default:'OT';index" json:"category"`
	Title        string           `gorm:"size:255" json:"title"`
	Description  string           `gorm:"type:text" json:"description"`
	Observations string           `gorm:"type:text" json:"observations"`
	CurrentBid   *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"current_bid"`
	BaseValue    decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"base_value"`
	OpeningValue decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"opening_value"`
	MinimumValue decimal.Decimal  `gorm:"type:decimal(20,2);default:0" json:"minimum_value"`
	StartDate    *time.Time       `gorm:"default:null" json:"start_date"`
	EndDate      *time.Time       `gorm:"index;default:null" json:"end_date"`

	// Category-specific fields. Area/Typology are real-estate only,
	// PlateNumber/Brand/Model/Year vehicle only.
	Area        *decimal.Decimal `gorm:"type:decimal(12,2);default:null" json:"area"`
	Typology    string           `gorm:"size:20" json:"typology"`
	PlateNumber string           `gorm:"size:20" json:"plate_number"`
	Brand       string           `gorm:"size:60" json:"brand"`
	Model       string           `gorm:"size:60" json:"model"`

	// Enrichment output, written by the background pipelines; deliberately
	// outside UpsertListing's update set so a refetch cannot wipe it.
	AISummary string `gorm:"type:text" json:"ai_summary"`

	District     string `gorm:"size:60;index" json:"district"`
	Municipality string `gorm:"size:60" json:"municipality"`
	Parish       string `gorm:"size:60" json:"parish"`

	Images []string `gorm:"serializer:json" json:"images"`

	IsCancelled bool `gorm:"default:false" json:"is_cancelled"`
	HasEnded    bool `gorm:"default:false" json:"has_ended"`

	LastFetchedAt *time.Time `gorm:"default:null" json:"last_fetched_at"`
	LastChangedAt *time.Time `gorm:"default:null" json:"last_changed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListingFilter narrows ListListings; zero values mean "no filter".
type ListingFilter struct {
	Category     ListingCategory
	District     string
	EndingWithin time.Duration
	Limit        int
	Offset       int
}

func GetListing(ctx context.Context, db *gorm.DB, lotNumber string) (*Listing, error) {
	var listing Listing
	err := db.WithContext(ctx).Where("lot_number = ?", lotNumber).First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &listing, nil
}

func ListListings(ctx context.Context, db *gorm.DB, filter ListingFilter) ([]Listing, error) {
	query := db.WithContext(ctx).Model(&Listing{}).
		Where("is_cancelled = ? AND has_ended = ?", false, false)

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.District != "" {
		query = query.Where("district = ?", filter.District)
	}
	if filter.EndingWithin > 0 {
		now := time.Now()
		query = query.Where("end_date IS NOT NULL AND end_date > ? AND end_date <= ?", now, now.Add(filter.EndingWithin))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var listings []Listing
	err := query.Order("end_date IS NULL, end_date ASC").
		Limit(limit).Offset(filter.Offset).
		Find(&listings).Error
	return listings, err
}

// ListEndingWithin returns the active listings whose end date falls inside
// the next thresholdMinutes. thresholdMinutes == 0 means no threshold: every
// active listing matches. This is the tier urgency query.
func ListEndingWithin(ctx context.Context, db *gorm.DB, thresholdMinutes int) ([]Listing, error) {
	query := db.WithContext(ctx).Model(&Listing{}).
		Where("is_cancelled = ? AND has_ended = ?", false, false)

	if thresholdMinutes > 0 {
		now := time.Now()
		query = query.Where("end_date IS NOT NULL AND end_date > ? AND end_date <= ?",
			now, now.Add(time.Duration(thresholdMinutes)*time.Minute))
	}

	var listings []Listing
	err := query.Order("end_date IS NULL, end_date ASC").Find(&listings).Error
	return listings, err
}

// UpsertListing inserts the listing or, when the lot already exists, updates
// every mutable column. LastChangedAt is deliberately excluded: only the
// change detector moves it.
func UpsertListing(ctx context.Context, db *gorm.DB, listing *Listing) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "lot_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "title", "description", "observations",
			"current_bid", "base_value", "opening_value", "minimum_value",
			"start_date", "end_date",
			"area", "typology", "plate_number", "brand", "model",
			"district", "municipality", "parish", "images",
			"is_cancelled", "has_ended", "last_fetched_at", "updated_at",
		}),
	}).Create(listing).Error
}

// UpdateVolatileFields persists the cheap-pass result: current bid, end
// date, fetch timestamp. Everything else is left alone. A nil end date is
// never written over a stored one; the extractor treats a blank end-date
// node as a parse failure, so nil here only means "no new value".
func UpdateVolatileFields(ctx context.Context, db *gorm.DB, lotNumber string, currentBid *decimal.Decimal, endDate *time.Time) error {
	now := time.Now()
	updates := map[string]interface{}{
		"current_bid":     currentBid,
		"last_fetched_at": &now,
	}
	if endDate != nil {
		updates["end_date"] = endDate
	}
	return db.WithContext(ctx).Model(&Listing{}).
		Where("lot_number = ?", lotNumber).
		Updates(updates).Error
}

// TouchLastChanged is called by the change detector when it confirms a
// material difference.
func TouchLastChanged(ctx context.Context, db *gorm.DB, lotNumber string, at time.Time) error {
	return db.WithContext(ctx).Model(&Listing{}).
		Where("lot_number = ?", lotNumber).
		Update("last_changed_at", &at).Error
}

// MarkListingEnded flips the ended flag once the portal stops serving the lot.
func MarkListingEnded(ctx context.Context, db *gorm.DB, lotNumber string) error {
	return db.WithContext(ctx).Model(&Listing{}).
		Where("lot_number = ?", lotNumber).
		Update("has_ended", true).Error
}

// SetAISummary stores the text-analysis output for a lot.
func SetAISummary(ctx context.Context, db *gorm.DB, lotNumber string, summary string) error {
	return db.WithContext(ctx).Model(&Listing{}).
		Where("lot_number = ?", lotNumber).
		Update("ai_summary", summary).Error
}

// SetVehicleDetails fills in lookup results for a vehicle lot.
func SetVehicleDetails(ctx context.Context, db *gorm.DB, lotNumber string, brand, model string) error {
	return db.WithContext(ctx).Model(&Listing{}).
		Where("lot_number = ?", lotNumber).
		Updates(map[string]interface{}{
			"brand": brand,
			"model": model,
		}).Error
}

// KnownLotNumbers returns every lot the store already tracks for a category;
// discovery diffs the portal index against this set to find new lots.
func KnownLotNumbers(ctx context.Context, db *gorm.DB, category ListingCategory) (map[string]struct{}, error) {
	var lots []string
	query := db.WithContext(ctx).Model(&Listing{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Pluck("lot_number", &lots).Error; err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(lots))
	for _, lot := range lots {
		known[lot] = struct{}{}
	}
	return known, nil
}
