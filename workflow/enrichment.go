package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TextAnalyzer produces a short analysis of a listing's free-text sections.
// The real implementation lives behind an HTTP service; anything matching
// this interface can be injected.
type TextAnalyzer interface {
	Analyze(ctx context.Context, listing *models.Listing) (string, error)
}

// VehicleInfo is what the registration lookup returns for a plate.
type VehicleInfo struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
}

// VehicleLookup resolves a plate number against the vehicle registry.
type VehicleLookup interface {
	Lookup(ctx context.Context, plateNumber string) (*VehicleInfo, error)
}

// NewAIEnrichmentPipeline builds the AI work-unit pipeline: for each claimed
// lot, run the analyzer over the stored snapshot and persist the summary.
func NewAIEnrichmentPipeline(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger, analyzer TextAnalyzer) *UnitPipeline {
	p := &UnitPipeline{
		Type:         models.PipelineTypeAI,
		DB:           db,
		Redis:        rdb,
		Logger:       logger,
		BatchSize:    config.IntFromEnv("AI_PIPELINE_BATCH_SIZE", 5),
		PollInterval: time.Duration(config.IntFromEnv("AI_PIPELINE_POLL_SECONDS", 60)) * time.Second,
		StuckTimeout: time.Duration(config.IntFromEnv("PIPELINE_STUCK_TIMEOUT_MINUTES", 10)) * time.Minute,
	}
	p.Process = func(ctx context.Context, unit models.WorkUnit) error {
		listing, err := models.GetListing(ctx, db, unit.LotNumber)
		if err != nil {
			return fmt.Errorf("load listing: %w", err)
		}
		summary, err := analyzer.Analyze(ctx, listing)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		return models.SetAISummary(ctx, db, unit.LotNumber, summary)
	}
	return p
}

// NewVehicleEnrichmentPipeline builds the vehicle work-unit pipeline: plate
// lookup for vehicle lots, filling brand/model the extractor could not read.
func NewVehicleEnrichmentPipeline(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger, lookup VehicleLookup) *UnitPipeline {
	p := &UnitPipeline{
		Type:         models.PipelineTypeVehicle,
		DB:           db,
		Redis:        rdb,
		Logger:       logger,
		BatchSize:    config.IntFromEnv("VEHICLE_PIPELINE_BATCH_SIZE", 5),
		PollInterval: time.Duration(config.IntFromEnv("VEHICLE_PIPELINE_POLL_SECONDS", 60)) * time.Second,
		StuckTimeout: time.Duration(config.IntFromEnv("PIPELINE_STUCK_TIMEOUT_MINUTES", 10)) * time.Minute,
	}
	p.Process = func(ctx context.Context, unit models.WorkUnit) error {
		listing, err := models.GetListing(ctx, db, unit.LotNumber)
		if err != nil {
			return fmt.Errorf("load listing: %w", err)
		}
		if listing.Category != models.ListingCategoryVehicle {
			return errors.New("not a vehicle lot")
		}
		if listing.PlateNumber == "" {
			return errors.New("no plate number extracted")
		}
		info, err := lookup.Lookup(ctx, listing.PlateNumber)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", listing.PlateNumber, err)
		}
		brand := listing.Brand
		model := listing.Model
		if brand == "" {
			brand = info.Brand
		}
		if model == "" {
			model = info.Model
		}
		return models.SetVehicleDetails(ctx, db, unit.LotNumber, brand, model)
	}
	return p
}

// EnqueueEnrichment queues the follow-up pipelines for a freshly ingested
// lot. Only the two enriched categories get units; everything else is out of
// scope for enrichment.
func EnqueueEnrichment(ctx context.Context, db *gorm.DB, listing *models.Listing) error {
	if listing.Category != models.ListingCategoryRealEstate && listing.Category != models.ListingCategoryVehicle {
		return nil
	}
	if err := models.EnqueueWorkUnit(ctx, db, models.PipelineTypeAI, listing.LotNumber); err != nil {
		return err
	}
	if listing.Category == models.ListingCategoryVehicle {
		return models.EnqueueWorkUnit(ctx, db, models.PipelineTypeVehicle, listing.LotNumber)
	}
	return nil
}
