package models

import (
	"context"
	"errors"
	"time"

	"github.com/leilaotrack/auctions_backend/utils"
	"gorm.io/gorm"
)

// PipelineTier is one named recurring job: its tick interval, its urgency
// threshold and the scheduler's run bookkeeping. Rows are created at first
// boot and never deleted.
type PipelineTier struct {
	ID               int        `gorm:"primary_key" json:"id"`
	Name             string     `gorm:"size:60;uniqueIndex;not null" json:"name"`
	Description      string     `gorm:"size:255" json:"description"`
	IsEnabled        bool       `gorm:"default:true" json:"is_enabled"`
	IntervalSeconds  int        `gorm:"not null" json:"interval_seconds"`
	ThresholdMinutes int        `gorm:"not null;default:0" json:"threshold_minutes"`
	LastRunAt        *time.Time `gorm:"default:null" json:"last_run_at"`
	RunCount         int64      `gorm:"default:0" json:"run_count"`
	IsRunning        bool       `gorm:"default:false" json:"is_running"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ListPipelineTiers(ctx context.Context, db *gorm.DB) ([]PipelineTier, error) {
	var tiers []PipelineTier
	err := db.WithContext(ctx).Order("interval_seconds ASC").Find(&tiers).Error
	return tiers, err
}

func GetPipelineTier(ctx context.Context, db *gorm.DB, name string) (*PipelineTier, error) {
	var tier PipelineTier
	err := db.WithContext(ctx).Where("name = ?", name).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &tier, nil
}

func SetPipelineTierEnabled(ctx context.Context, db *gorm.DB, name string, enabled bool) error {
	result := db.WithContext(ctx).Model(&PipelineTier{}).
		Where("name = ?", name).
		Update("is_enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// ClaimTierRun flips is_running from false to true with a guarded UPDATE.
// A false return means another tick of the same tier is still in flight and
// the caller must do nothing.
func ClaimTierRun(ctx context.Context, db *gorm.DB, name string) (bool, error) {
	result := db.WithContext(ctx).Model(&PipelineTier{}).
		Where("name = ? AND is_running = ?", name, false).
		Update("is_running", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FinishTierRun records the run regardless of how many listings succeeded:
// last-run timestamp, run counter, and the release of the running flag.
func FinishTierRun(ctx context.Context, db *gorm.DB, name string, finishedAt time.Time) error {
	return db.WithContext(ctx).Model(&PipelineTier{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"is_running":  false,
			"last_run_at": &finishedAt,
			"run_count":   gorm.Expr("run_count + 1"),
		}).Error
}

// ReleaseTierRuns clears running flags left over from a previous process;
// called once at boot before the scheduler starts.
func ReleaseTierRuns(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&PipelineTier{}).
		Where("is_running = ?", true).
		Update("is_running", false).Error
}

// SeedPipelineTiers inserts any default tier that does not exist yet. Stored
// rows win for every operator-mutable field, so re-seeding never undoes an
// enable/disable or an interval override.
func SeedPipelineTiers(ctx context.Context, db *gorm.DB, defaults []PipelineTier) error {
	for _, def := range defaults {
		var existing PipelineTier
		err := db.WithContext(ctx).Where("name = ?", def.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		tier := def
		if createErr := db.WithContext(ctx).Create(&tier).Error; createErr != nil {
			return createErr
		}
	}
	return nil
}
