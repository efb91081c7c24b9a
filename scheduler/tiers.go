package scheduler

import (
	"time"

	"github.com/leilaotrack/auctions_backend/models"
)

// Tier names. The discovery tier is the only one that paginates the index;
// every other tier re-checks listings the store already knows.
const (
	TierClosing90s = "closing-90s"
	TierClosing5m  = "closing-5m"
	TierClosing1h  = "closing-1h"
	TierClosing24h = "closing-24h"
	TierFullSweep  = "full-sweep"
	TierDiscovery  = "discovery"
)

// DefaultTiers is the fixed set created at first boot. Urgency classes trade
// interval against threshold: tighter deadlines get both a narrower match
// window and a shorter interval, and the full sweep catches anything the
// tighter tiers missed. Adding a tier is a config change, not a code change.
func DefaultTiers() []models.PipelineTier {
	return []models.PipelineTier{
		{
			Name:             TierClosing90s,
			Description:      "Lots closing within 2 minutes, checked every 15 seconds",
			IsEnabled:        true,
			IntervalSeconds:  15,
			ThresholdMinutes: 2,
		},
		{
			Name:             TierClosing5m,
			Description:      "Lots closing within 5 minutes, checked every minute",
			IsEnabled:        true,
			IntervalSeconds:  60,
			ThresholdMinutes: 5,
		},
		{
			Name:             TierClosing1h,
			Description:      "Lots closing within the hour, checked every 5 minutes",
			IsEnabled:        true,
			IntervalSeconds:  300,
			ThresholdMinutes: 60,
		},
		{
			Name:             TierClosing24h,
			Description:      "Lots closing within 24 hours, checked every 15 minutes",
			IsEnabled:        true,
			IntervalSeconds:  900,
			ThresholdMinutes: 1440,
		},
		{
			Name:             TierFullSweep,
			Description:      "Every active lot, checked every 6 hours",
			IsEnabled:        true,
			IntervalSeconds:  21600,
			ThresholdMinutes: 0,
		},
		{
			Name:             TierDiscovery,
			Description:      "Index pagination for new lots, every hour",
			IsEnabled:        true,
			IntervalSeconds:  3600,
			ThresholdMinutes: 0,
		},
	}
}

// TierStatus is the operational view of one tier, including the derived
// time until its next run.
type TierStatus struct {
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	IsEnabled        bool       `json:"is_enabled"`
	IsRunning        bool       `json:"is_running"`
	IntervalSeconds  int        `json:"interval_seconds"`
	ThresholdMinutes int        `json:"threshold_minutes"`
	LastRunAt        *time.Time `json:"last_run_at"`
	RunCount         int64      `json:"run_count"`
	NextRunSeconds   int        `json:"next_run_seconds"`
}

// StatusOf derives the API view from a stored tier row.
func StatusOf(tier models.PipelineTier, now time.Time) TierStatus {
	status := TierStatus{
		Name:             tier.Name,
		Description:      tier.Description,
		IsEnabled:        tier.IsEnabled,
		IsRunning:        tier.IsRunning,
		IntervalSeconds:  tier.IntervalSeconds,
		ThresholdMinutes: tier.ThresholdMinutes,
		LastRunAt:        tier.LastRunAt,
		RunCount:         tier.RunCount,
	}
	if !tier.IsEnabled {
		status.NextRunSeconds = -1
		return status
	}
	if tier.LastRunAt == nil {
		return status
	}
	next := tier.LastRunAt.Add(time.Duration(tier.IntervalSeconds) * time.Second)
	remaining := int(next.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	status.NextRunSeconds = remaining
	return status
}
