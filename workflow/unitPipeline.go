package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultStuckTimeout is how long a unit may sit in processing before the
// recovery supervisor considers it abandoned.
const DefaultStuckTimeout = 10 * time.Minute

// RunStats is the aggregate for the current or most recent run of a
// pipeline, exposed on the operational surface.
type RunStats struct {
	PipelineType models.PipelineType `json:"pipeline_type"`
	StartedAt    *time.Time          `json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at"`
	Processed    int64               `json:"processed"`
	Failed       int64               `json:"failed"`
	Reclaimed    int64               `json:"reclaimed"`
	Running      bool                `json:"running"`
}

// UnitPipeline is the run-loop shape shared by every background worker
// (ingestion, AI enrichment, vehicle enrichment): reclaim stale units,
// claim a batch, process each unit through the handler, record the outcome,
// sleep, repeat until stopped. Constructed once in main and passed by
// reference; it holds the pipeline's mutable run state.
type UnitPipeline struct {
	Type         models.PipelineType
	DB           *gorm.DB
	Redis        *config.Redis
	Logger       *logrus.Logger
	BatchSize    int
	PollInterval time.Duration
	StuckTimeout time.Duration

	// Process handles one claimed unit; a non-nil error fails the unit
	// with a truncated message.
	Process func(ctx context.Context, unit models.WorkUnit) error

	// BeforeBatch/AfterBatch bracket each claimed batch; the ingestion
	// pipeline uses them to open and close its browser instance.
	BeforeBatch func(ctx context.Context) error
	AfterBatch  func()

	stop utils.StopFlag

	// statsMu guards stats: the run loop mutates it while HTTP handlers
	// snapshot it through Stats.
	statsMu sync.Mutex
	stats   RunStats
}

func (p *UnitPipeline) updateStats(fn func(s *RunStats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(&p.stats)
}

// Run drives the loop. It returns when the context is cancelled or Stop is
// called. Only one process per pipeline type may run; the redis lock is the
// single-instance run guard and a refused lock ends the worker immediately.
func (p *UnitPipeline) Run(ctx context.Context) error {
	if p.PollInterval <= 0 {
		p.PollInterval = 30 * time.Second
	}
	if p.StuckTimeout <= 0 {
		p.StuckTimeout = DefaultStuckTimeout
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 5
	}
	p.stop.Reset()

	lockKey := fmt.Sprintf("pipeline:%s", p.Type)
	lock, err := p.Redis.ObtainLock(ctx, lockKey, p.StuckTimeout)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			p.Logger.WithFields(logrus.Fields{
				"module":   "workflow",
				"pipeline": p.Type,
			}).Warn("another instance holds the pipeline lock; not starting")
			return nil
		}
		return err
	}
	if lock != nil {
		defer lock.Release(context.Background())
	}

	// Stuck-task recovery before any new work is claimed.
	reclaimed, err := models.ReclaimStaleWorkUnits(ctx, p.DB, p.Type, p.StuckTimeout)
	if err != nil {
		return err
	}
	p.updateStats(func(s *RunStats) {
		*s = RunStats{PipelineType: p.Type, Reclaimed: reclaimed, Running: true}
	})
	if reclaimed > 0 {
		p.Logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"pipeline":  p.Type,
			"reclaimed": reclaimed,
		}).Warn("reclaimed stuck work units")
	}

	for {
		if ctx.Err() != nil || p.stop.Stopped() {
			p.updateStats(func(s *RunStats) { s.Running = false })
			return nil
		}

		if lock != nil {
			// Keep the run guard alive across long batches.
			_ = lock.Refresh(ctx, p.StuckTimeout, nil)
		}

		ran, err := p.runOnce(ctx)
		if err != nil {
			// Store trouble: log, back off, resume rather than die.
			config.LogError(p.Logger, "workflow", "Run", string(p.Type), nil, err)
			if !p.sleep(ctx, p.PollInterval) {
				p.updateStats(func(s *RunStats) { s.Running = false })
				return nil
			}
			continue
		}

		if !ran {
			if !p.sleep(ctx, p.PollInterval) {
				p.updateStats(func(s *RunStats) { s.Running = false })
				return nil
			}
		}
	}
}

// runOnce claims and processes one batch. Returns false when there was
// nothing to do.
func (p *UnitPipeline) runOnce(ctx context.Context) (bool, error) {
	units, err := models.ClaimPendingWorkUnits(ctx, p.DB, p.Type, p.BatchSize)
	if err != nil {
		return false, err
	}
	if len(units) == 0 {
		return false, nil
	}

	now := time.Now()
	p.updateStats(func(s *RunStats) {
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	})

	if p.BeforeBatch != nil {
		if err := p.BeforeBatch(ctx); err != nil {
			return false, err
		}
	}
	if p.AfterBatch != nil {
		defer p.AfterBatch()
	}

	for _, unit := range units {
		if ctx.Err() != nil || p.stop.Stopped() {
			break
		}
		p.processUnit(ctx, unit)
	}

	finished := time.Now()
	p.updateStats(func(s *RunStats) { s.FinishedAt = &finished })
	p.publishStats(ctx)
	return true, nil
}

func (p *UnitPipeline) processUnit(ctx context.Context, unit models.WorkUnit) {
	err := p.Process(ctx, unit)
	if err != nil {
		p.updateStats(func(s *RunStats) { s.Failed++ })
		if failErr := models.FailWorkUnit(ctx, p.DB, unit.ID, err.Error()); failErr != nil {
			config.LogError(p.Logger, "workflow", "processUnit", "fail unit", unit.LotNumber, failErr)
		}
		p.Logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"pipeline": p.Type,
			"lot":      unit.LotNumber,
		}).Error("work unit failed: " + err.Error())
		return
	}

	p.updateStats(func(s *RunStats) { s.Processed++ })
	if err := models.CompleteWorkUnit(ctx, p.DB, unit.ID); err != nil {
		config.LogError(p.Logger, "workflow", "processUnit", "complete unit", unit.LotNumber, err)
	}
}

// Stop requests a cooperative shutdown; the loop exits at the next
// suspension point. In-flight fetches are not aborted, only not re-issued.
func (p *UnitPipeline) Stop() {
	p.stop.Stop()
}

// Stats returns a snapshot of the current run's aggregates. Safe to call
// from any goroutine.
func (p *UnitPipeline) Stats() RunStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *UnitPipeline) publishStats(ctx context.Context) {
	key := fmt.Sprintf("pipeline:stats:%s", p.Type)
	if err := p.Redis.SetObject(ctx, key, p.Stats(), time.Hour); err != nil {
		p.Logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"pipeline": p.Type,
		}).Warn("failed to cache run stats: " + err.Error())
	}
}

func (p *UnitPipeline) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return !p.stop.Stopped()
	}
}
