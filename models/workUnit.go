package models

import (
	"context"
	"fmt"
	"time"

	"github.com/leilaotrack/auctions_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const workUnitErrorMax = 500

// WorkUnit is one item of background work for a pipeline type. The
// (pipeline_type, lot_number) pair is unique; status moves
// pending -> processing -> completed|failed, and StatusChangedAt moves
// atomically with every transition so the staleness check in the recovery
// supervisor is race-free.
type WorkUnit struct {
	ID              int            `gorm:"primary_key" json:"id"`
	PipelineType    PipelineType   `gorm:"type:enum('INGEST','AI','VEHICLE');not null;uniqueIndex:idx_work_units_type_lot" json:"pipeline_type"`
	LotNumber       string         `gorm:"size:40;not null;uniqueIndex:idx_work_units_type_lot" json:"lot_number"`
	Status          WorkUnitStatus `gorm:"type:enum('pending','processing','completed','failed');default:'pending';index" json:"status"`
	StatusChangedAt time.Time      `gorm:"not null" json:"status_changed_at"`
	ErrorMessage    string         `gorm:"size:500" json:"error_message"`
	Attempts        int            `gorm:"default:0" json:"attempts"`
	// RequeuedManually marks a unit put back to pending by a human via the
	// API, so downstream writes can carry the manual source tag.
	RequeuedManually bool      `gorm:"default:false" json:"requeued_manually"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueWorkUnit creates a pending unit, or resets an existing completed/
// failed one back to pending. An already pending or processing unit is left
// untouched.
func EnqueueWorkUnit(ctx context.Context, db *gorm.DB, pipelineType PipelineType, lotNumber string) error {
	now := time.Now()
	unit := WorkUnit{
		PipelineType:    pipelineType,
		LotNumber:       lotNumber,
		Status:          WorkUnitStatusPending,
		StatusChangedAt: now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pipeline_type"}, {Name: "lot_number"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status": gorm.Expr(
				"CASE WHEN status IN ('completed','failed') THEN 'pending' ELSE status END"),
			"status_changed_at": gorm.Expr(
				"CASE WHEN status IN ('completed','failed') THEN ? ELSE status_changed_at END", now),
			"requeued_manually": gorm.Expr(
				"CASE WHEN status IN ('completed','failed') THEN FALSE ELSE requeued_manually END"),
		}),
	}).Create(&unit).Error
}

// ClaimPendingWorkUnits moves up to limit pending units of one pipeline type
// to processing and returns them. The transition and its timestamp land in
// the same transaction, so exactly one worker can hold a unit.
func ClaimPendingWorkUnits(ctx context.Context, db *gorm.DB, pipelineType PipelineType, limit int) ([]WorkUnit, error) {
	if limit <= 0 {
		limit = 10
	}

	var claimed []WorkUnit
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var units []WorkUnit
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pipeline_type = ? AND status = ?", pipelineType, WorkUnitStatusPending).
			Order("status_changed_at ASC").
			Limit(limit).
			Find(&units).Error; err != nil {
			return err
		}
		if len(units) == 0 {
			return nil
		}

		now := time.Now()
		ids := make([]int, 0, len(units))
		for i := range units {
			ids = append(ids, units[i].ID)
			units[i].Status = WorkUnitStatusProcessing
			units[i].StatusChangedAt = now
			units[i].Attempts++
		}
		if err := tx.Model(&WorkUnit{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":            WorkUnitStatusProcessing,
				"status_changed_at": now,
				"attempts":          gorm.Expr("attempts + 1"),
			}).Error; err != nil {
			return err
		}
		claimed = units
		return nil
	})
	return claimed, err
}

func CompleteWorkUnit(ctx context.Context, db *gorm.DB, id int) error {
	return db.WithContext(ctx).Model(&WorkUnit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            WorkUnitStatusCompleted,
			"status_changed_at": time.Now(),
			"error_message":     "",
			"requeued_manually": false,
		}).Error
}

func FailWorkUnit(ctx context.Context, db *gorm.DB, id int, reason string) error {
	return db.WithContext(ctx).Model(&WorkUnit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            WorkUnitStatusFailed,
			"status_changed_at": time.Now(),
			"error_message":     utils.TruncateString(reason, workUnitErrorMax),
		}).Error
}

// ReclaimStaleWorkUnits is the stuck-task recovery contract: every unit of
// the given type stuck in processing past the timeout goes back to pending.
// Returns how many were reclaimed.
func ReclaimStaleWorkUnits(ctx context.Context, db *gorm.DB, pipelineType PipelineType, timeout time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-timeout)
	result := db.WithContext(ctx).Model(&WorkUnit{}).
		Where("pipeline_type = ? AND status = ? AND status_changed_at < ?",
			pipelineType, WorkUnitStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":            WorkUnitStatusPending,
			"status_changed_at": now,
			"error_message": utils.TruncateString(
				fmt.Sprintf("reset from stuck processing at %s", now.UTC().Format(time.RFC3339)),
				workUnitErrorMax),
		})
	return result.RowsAffected, result.Error
}

// RequeueFailedWorkUnit is the human-triggered retry path (failed -> pending).
func RequeueFailedWorkUnit(ctx context.Context, db *gorm.DB, pipelineType PipelineType, lotNumber string) error {
	result := db.WithContext(ctx).Model(&WorkUnit{}).
		Where("pipeline_type = ? AND lot_number = ? AND status = ?",
			pipelineType, lotNumber, WorkUnitStatusFailed).
		Updates(map[string]interface{}{
			"status":            WorkUnitStatusPending,
			"status_changed_at": time.Now(),
			"error_message":     "",
			"requeued_manually": true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// WorkUnitStatusCounts is the operational rollup per pipeline type.
type WorkUnitStatusCounts struct {
	PipelineType PipelineType `json:"pipeline_type"`
	Pending      int64        `json:"pending"`
	Processing   int64        `json:"processing"`
	Completed    int64        `json:"completed"`
	Failed       int64        `json:"failed"`
}

func CountWorkUnits(ctx context.Context, db *gorm.DB, pipelineType PipelineType) (*WorkUnitStatusCounts, error) {
	type row struct {
		Status WorkUnitStatus
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&WorkUnit{}).
		Select("status, COUNT(*) AS n").
		Where("pipeline_type = ?", pipelineType).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := WorkUnitStatusCounts{PipelineType: pipelineType}
	for _, r := range rows {
		switch r.Status {
		case WorkUnitStatusPending:
			counts.Pending = r.N
		case WorkUnitStatusProcessing:
			counts.Processing = r.N
		case WorkUnitStatusCompleted:
			counts.Completed = r.N
		case WorkUnitStatusFailed:
			counts.Failed = r.N
		}
	}
	return &counts, nil
}
