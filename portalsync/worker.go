package portalsync

import (
	"context"
	"errors"
	"time"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/leilaotrack/auctions_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HistorySourceIngest tags history rows written by the full-pipeline worker
// rather than a scheduler tier.
const HistorySourceIngest = "ingest"

// NewIngestPipeline builds the main ingestion work-unit pipeline. Each
// claimed lot gets a full extraction pass; one browser instance serves one
// batch and is closed before the next batch begins.
func NewIngestPipeline(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger, extractor *Extractor) *workflow.UnitPipeline {
	var browser *Browser

	p := &workflow.UnitPipeline{
		Type:         models.PipelineTypeIngest,
		DB:           db,
		Redis:        rdb,
		Logger:       logger,
		BatchSize:    config.IntFromEnv("INGEST_BATCH_SIZE", 4),
		PollInterval: time.Duration(config.IntFromEnv("INGEST_POLL_SECONDS", 30)) * time.Second,
		StuckTimeout: time.Duration(config.IntFromEnv("PIPELINE_STUCK_TIMEOUT_MINUTES", 10)) * time.Minute,
	}

	p.BeforeBatch = func(ctx context.Context) error {
		browser = NewBrowser()
		return nil
	}
	p.AfterBatch = func() {
		if browser != nil {
			browser.Close()
			browser = nil
		}
	}

	p.Process = func(ctx context.Context, unit models.WorkUnit) error {
		if unit.RequeuedManually {
			ctx = utils.SetSourceInContext(ctx, models.HistorySourceManual)
		}
		return ingestLot(ctx, db, rdb, logger, extractor, browser, unit.LotNumber)
	}

	return p
}

func ingestLot(ctx context.Context, db *gorm.DB, rdb *config.Redis, logger *logrus.Logger, extractor *Extractor, browser *Browser, lotNumber string) error {
	old, err := models.GetListing(ctx, db, lotNumber)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return err
	}

	listing, err := extractor.FetchFull(ctx, browser, lotNumber)
	if err != nil {
		return err
	}

	isNew := old == nil
	var oldBid *decimal.Decimal
	if old != nil {
		oldBid = old.CurrentBid
	}

	if err := models.UpsertListing(ctx, db, listing); err != nil {
		return err
	}

	source := HistorySourceIngest
	if s, ok := utils.GetSourceFromContext(ctx); ok && s != "" {
		source = s
	}

	entry, err := workflow.RecordIfChanged(ctx, db, lotNumber, oldBid, listing.CurrentBid, listing.EndDate, source)
	if err != nil {
		return err
	}

	if isNew {
		workflow.MatchAndNotify(ctx, db, rdb, logger, listing, models.RuleTypeNewListing, nil, listing.CurrentBid)
		if err := workflow.EnqueueEnrichment(ctx, db, listing); err != nil {
			config.LogError(logger, "portalsync", "ingestLot", "enqueue enrichment", lotNumber, err)
		}
	} else if entry != nil && entry.PreviousBid != nil {
		workflow.MatchAndNotify(ctx, db, rdb, logger, listing, models.RuleTypePriceChange, oldBid, listing.CurrentBid)
	}

	logger.WithFields(logrus.Fields{
		"module":   "portalsync",
		"lot":      lotNumber,
		"category": listing.Category,
		"new":      isNew,
	}).Info("lot ingested")
	return nil
}

// RunDiscovery paginates the portal index for both enriched categories,
// diffs the result against the lots the store already knows and queues an
// ingestion unit for every new one. Returns how many new lots were queued.
func RunDiscovery(ctx context.Context, db *gorm.DB, logger *logrus.Logger, extractor *Extractor) (int, error) {
	browser := NewBrowser()
	defer browser.Close()

	queued := 0
	for _, category := range []models.ListingCategory{models.ListingCategoryRealEstate, models.ListingCategoryVehicle} {
		lots, err := extractor.DiscoverLots(ctx, browser, category)
		if err != nil {
			// Partial pages still count; log and keep what we got.
			config.LogError(logger, "portalsync", "RunDiscovery", string(category), nil, err)
		}
		if len(lots) == 0 {
			continue
		}

		known, err := models.KnownLotNumbers(ctx, db, "")
		if err != nil {
			return queued, err
		}

		for _, lot := range lots {
			if _, exists := known[lot]; exists {
				continue
			}
			if err := models.EnqueueWorkUnit(ctx, db, models.PipelineTypeIngest, lot); err != nil {
				config.LogError(logger, "portalsync", "RunDiscovery", "enqueue", lot, err)
				continue
			}
			queued++
		}

		logger.WithFields(logrus.Fields{
			"module":   "portalsync",
			"category": category,
			"indexed":  len(lots),
			"queued":   queued,
		}).Info("discovery pass complete")
	}

	return queued, nil
}
