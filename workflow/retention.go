package workflow

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SweepPriceHistory deletes history rows older than the cutoff while always
// keeping each lot's oldest and newest entry, so the full trajectory span
// survives the sweep. The window is business policy, not a detector
// invariant; it arrives from configuration.
//
// Returns how many rows were deleted.
func SweepPriceHistory(ctx context.Context, db *gorm.DB, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result := db.WithContext(ctx).Exec(`
		DELETE ph FROM price_histories ph
		JOIN (
			SELECT lot_number, MIN(id) AS first_id, MAX(id) AS last_id
			FROM price_histories
			GROUP BY lot_number
		) bounds ON bounds.lot_number = ph.lot_number
		WHERE ph.recorded_at < ?
		  AND ph.id <> bounds.first_id
		  AND ph.id <> bounds.last_id`, cutoff)

	return result.RowsAffected, result.Error
}
