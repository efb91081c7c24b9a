package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/portalsync"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/leilaotrack/auctions_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// endingSoonWindow is how close to the end a lot must be before ending-soon
// rules fire. Each lot notifies at most once per day via a redis dedup key.
const endingSoonWindow = 30 * time.Minute

// Manager owns the urgency-tiered scheduler: one ticking goroutine per
// enabled tier, each driving the volatile extraction pass and the change
// detector over its urgency-filtered subset. Constructed once at process
// start and passed by reference; there are no package-level globals.
type Manager struct {
	db        *gorm.DB
	redis     *config.Redis
	logger    *logrus.Logger
	extractor *portalsync.Extractor

	batchSize  int
	batchDelay time.Duration
	errBackoff time.Duration

	stop utils.StopFlag
	wg   sync.WaitGroup
}

func NewManager(db *gorm.DB, rdb *config.Redis, logger *logrus.Logger, extractor *portalsync.Extractor) *Manager {
	return &Manager{
		db:         db,
		redis:      rdb,
		logger:     logger,
		extractor:  extractor,
		batchSize:  config.IntFromEnv("TIER_BATCH_SIZE", 4),
		batchDelay: time.Duration(config.IntFromEnv("TIER_BATCH_DELAY_MS", 1500)) * time.Millisecond,
		errBackoff: time.Duration(config.IntFromEnv("TIER_ERROR_BACKOFF_SECONDS", 60)) * time.Second,
	}
}

// Start seeds the default tiers, clears running flags left over from a
// previous process and launches one loop per enabled tier. Enabling a tier
// that was disabled at boot requires a restart; the enable flag is still
// honored per tick, so a disable takes effect immediately.
func (m *Manager) Start(ctx context.Context) error {
	if err := models.SeedPipelineTiers(ctx, m.db, DefaultTiers()); err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}
	if err := models.ReleaseTierRuns(ctx, m.db); err != nil {
		return fmt.Errorf("release stale tier runs: %w", err)
	}

	tiers, err := models.ListPipelineTiers(ctx, m.db)
	if err != nil {
		return err
	}

	m.stop.Reset()
	for _, tier := range tiers {
		if !tier.IsEnabled {
			continue
		}
		m.wg.Add(1)
		go m.tierLoop(ctx, tier.Name, time.Duration(tier.IntervalSeconds)*time.Second)
	}

	m.logger.WithFields(logrus.Fields{
		"module": "scheduler",
		"tiers":  len(tiers),
	}).Info("tier scheduler started")
	return nil
}

// Stop requests a cooperative shutdown and waits for every tier loop.
func (m *Manager) Stop() {
	m.stop.Stop()
	m.wg.Wait()
}

func (m *Manager) tierLoop(ctx context.Context, name string, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.stop.Stopped() {
				return
			}
			if err := m.RunTierTick(ctx, name); err != nil {
				// Unexpected failure: log, back off, resume. The loop
				// never terminates the process.
				config.LogError(m.logger, "scheduler", "tierLoop", name, nil, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.errBackoff):
				}
			}
		}
	}
}

// RunTierTick performs one tick of the named tier. It refuses to overlap a
// still-running tick of the same tier, and it records run bookkeeping no
// matter how many listings succeeded.
func (m *Manager) RunTierTick(ctx context.Context, name string) error {
	tier, err := models.GetPipelineTier(ctx, m.db, name)
	if err != nil {
		return err
	}
	if !tier.IsEnabled {
		return nil
	}

	claimed, err := models.ClaimTierRun(ctx, m.db, name)
	if err != nil {
		return err
	}
	if !claimed {
		m.logger.WithFields(logrus.Fields{
			"module": "scheduler",
			"tier":   name,
		}).Debug("tick skipped; previous run still in flight")
		return nil
	}
	defer func() {
		if finishErr := models.FinishTierRun(context.Background(), m.db, name, time.Now()); finishErr != nil {
			config.LogError(m.logger, "scheduler", "RunTierTick", "finish run", name, finishErr)
		}
		m.cacheTierStatuses(context.Background())
	}()

	if name == TierDiscovery {
		queued, err := portalsync.RunDiscovery(ctx, m.db, m.logger, m.extractor)
		if err != nil {
			return err
		}
		m.logger.WithFields(logrus.Fields{
			"module": "scheduler",
			"tier":   name,
			"queued": queued,
		}).Info("discovery tick complete")
		return nil
	}

	listings, err := models.ListEndingWithin(ctx, m.db, tier.ThresholdMinutes)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		m.logger.WithFields(logrus.Fields{
			"module": "scheduler",
			"tier":   name,
		}).Debug("no listings in tier window")
		return nil
	}

	processed, failed := m.processListings(ctx, name, listings)

	m.recordTickCounters(ctx, name, processed, failed)
	m.logger.WithFields(logrus.Fields{
		"module":    "scheduler",
		"tier":      name,
		"matched":   len(listings),
		"processed": processed,
		"failed":    failed,
	}).Info("tier tick complete")
	return nil
}

// processListings runs the volatile pass over the matched subset in bounded
// concurrent batches. One browser instance serves one batch and is closed
// before the next; the inter-batch delay is the second throttle.
func (m *Manager) processListings(ctx context.Context, tierName string, listings []models.Listing) (processed, failed int) {
	var mu sync.Mutex

	batches := utils.Chunk(listings, m.batchSize)
	for i, batch := range batches {
		if ctx.Err() != nil || m.stop.Stopped() {
			return
		}

		browser := portalsync.NewBrowser()
		var wg sync.WaitGroup
		for j := range batch {
			wg.Add(1)
			go func(listing models.Listing) {
				defer wg.Done()
				if err := m.checkListing(ctx, browser, tierName, listing); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					m.logger.WithFields(logrus.Fields{
						"module": "scheduler",
						"tier":   tierName,
						"lot":    listing.LotNumber,
					}).Error("volatile check failed: " + err.Error())
					return
				}
				mu.Lock()
				processed++
				mu.Unlock()
			}(batch[j])
		}
		wg.Wait()
		browser.Close()

		if i < len(batches)-1 && m.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.batchDelay):
			}
		}
	}
	return
}

// checkListing is one volatile fetch + change detection. Failures are
// isolated to the lot; the batch and the tick carry on.
func (m *Manager) checkListing(ctx context.Context, browser *portalsync.Browser, tierName string, listing models.Listing) error {
	fields, err := m.extractor.FetchVolatile(ctx, browser, listing.LotNumber)
	if err != nil {
		return err
	}

	if err := models.UpdateVolatileFields(ctx, m.db, listing.LotNumber, fields.CurrentBid, fields.EndDate); err != nil {
		return err
	}

	if lotHasEnded(fields.EndDate, time.Now()) {
		// The auction closed between ticks; flip the flag so the lot
		// leaves every tier query instead of being refetched forever.
		if err := models.MarkListingEnded(ctx, m.db, listing.LotNumber); err != nil {
			return err
		}
		m.logger.WithFields(logrus.Fields{
			"module": "scheduler",
			"tier":   tierName,
			"lot":    listing.LotNumber,
		}).Info("lot marked as ended")
		return nil
	}

	entry, err := workflow.RecordIfChanged(ctx, m.db, listing.LotNumber, listing.CurrentBid, fields.CurrentBid, fields.EndDate, tierName)
	if err != nil {
		return err
	}

	updated := listing
	updated.CurrentBid = fields.CurrentBid
	if fields.EndDate != nil {
		updated.EndDate = fields.EndDate
	}

	if entry != nil && entry.PreviousBid != nil {
		workflow.MatchAndNotify(ctx, m.db, m.redis, m.logger, &updated, models.RuleTypePriceChange, listing.CurrentBid, fields.CurrentBid)
	}

	m.maybeNotifyEndingSoon(ctx, &updated)
	return nil
}

// lotHasEnded reports whether an observed end date is already in the past.
// A nil end date is inconclusive and never ends a lot.
func lotHasEnded(endDate *time.Time, now time.Time) bool {
	return endDate != nil && !endDate.After(now)
}

// maybeNotifyEndingSoon fires ending-soon rules once a lot enters the
// window. The redis key dedupes across tiers and ticks.
func (m *Manager) maybeNotifyEndingSoon(ctx context.Context, listing *models.Listing) {
	if listing.EndDate == nil {
		return
	}
	until := time.Until(*listing.EndDate)
	if until <= 0 || until > endingSoonWindow {
		return
	}

	if m.redis != nil && m.redis.Client != nil {
		key := fmt.Sprintf("endingsoon:%s", listing.LotNumber)
		ok, err := m.redis.Client.SetNX(ctx, key, "1", 24*time.Hour).Result()
		if err == nil && !ok {
			return
		}
	}

	workflow.MatchAndNotify(ctx, m.db, m.redis, m.logger, listing, models.RuleTypeEndingSoon, nil, listing.CurrentBid)
}

func (m *Manager) recordTickCounters(ctx context.Context, tierName string, processed, failed int) {
	if m.redis == nil || m.redis.Client == nil {
		return
	}
	pipe := m.redis.Client.Pipeline()
	pipe.IncrBy(ctx, fmt.Sprintf("tier:counters:%s:processed", tierName), int64(processed))
	pipe.IncrBy(ctx, fmt.Sprintf("tier:counters:%s:failed", tierName), int64(failed))
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.WithFields(logrus.Fields{
			"module": "scheduler",
			"tier":   tierName,
		}).Warn("failed to record tick counters: " + err.Error())
	}
}

// cacheTierStatuses refreshes the redis snapshot the API serves when it does
// not want to hit the store.
func (m *Manager) cacheTierStatuses(ctx context.Context) {
	tiers, err := models.ListPipelineTiers(ctx, m.db)
	if err != nil {
		return
	}
	now := time.Now()
	statuses := make([]TierStatus, 0, len(tiers))
	for _, tier := range tiers {
		statuses = append(statuses, StatusOf(tier, now))
	}
	_ = m.redis.SetObject(ctx, "tier:status", statuses, 5*time.Minute)
}

// EnableTier persists an enable and reports whether the change took effect.
func (m *Manager) EnableTier(ctx context.Context, name string) error {
	return models.SetPipelineTierEnabled(ctx, m.db, name, true)
}

// DisableTier takes effect at the tier's next tick.
func (m *Manager) DisableTier(ctx context.Context, name string) error {
	return models.SetPipelineTierEnabled(ctx, m.db, name, false)
}

// TierStatuses is the API read accessor, redis-cached with a store
// fallback.
func (m *Manager) TierStatuses(ctx context.Context) ([]TierStatus, error) {
	var cached []TierStatus
	if found, err := m.redis.GetObject(ctx, "tier:status", &cached); err == nil && found {
		return cached, nil
	}

	tiers, err := models.ListPipelineTiers(ctx, m.db)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	statuses := make([]TierStatus, 0, len(tiers))
	for _, tier := range tiers {
		statuses = append(statuses, StatusOf(tier, now))
	}
	return statuses, nil
}
