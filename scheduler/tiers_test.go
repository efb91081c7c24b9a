package scheduler

import (
	"testing"
	"time"

	"github.com/leilaotrack/auctions_backend/models"
)

func TestDefaultTiers_UrgencyOrdering(t *testing.T) {
	tiers := DefaultTiers()
	if len(tiers) != 6 {
		t.Fatalf("expected 6 default tiers, got %d", len(tiers))
	}

	byName := map[string]models.PipelineTier{}
	for _, tier := range tiers {
		if tier.Name == "" || tier.IntervalSeconds <= 0 {
			t.Fatalf("malformed tier %+v", tier)
		}
		if !tier.IsEnabled {
			t.Fatalf("default tier %s must start enabled", tier.Name)
		}
		if _, dup := byName[tier.Name]; dup {
			t.Fatalf("duplicate tier name %s", tier.Name)
		}
		byName[tier.Name] = tier
	}

	// Tighter deadline means both a narrower window and a shorter interval.
	urgency := []string{TierClosing90s, TierClosing5m, TierClosing1h, TierClosing24h}
	for i := 1; i < len(urgency); i++ {
		prev, cur := byName[urgency[i-1]], byName[urgency[i]]
		if prev.IntervalSeconds >= cur.IntervalSeconds {
			t.Fatalf("%s interval must be shorter than %s", prev.Name, cur.Name)
		}
		if prev.ThresholdMinutes >= cur.ThresholdMinutes {
			t.Fatalf("%s threshold must be narrower than %s", prev.Name, cur.Name)
		}
	}

	// Full sweep and discovery match everything.
	if byName[TierFullSweep].ThresholdMinutes != 0 {
		t.Fatalf("full sweep must have no threshold")
	}
	if byName[TierDiscovery].ThresholdMinutes != 0 {
		t.Fatalf("discovery must have no threshold")
	}
}

func TestStatusOf(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-40 * time.Second)

	tier := models.PipelineTier{
		Name:            TierClosing5m,
		IsEnabled:       true,
		IntervalSeconds: 60,
		LastRunAt:       &lastRun,
		RunCount:        7,
	}

	status := StatusOf(tier, now)
	if status.NextRunSeconds != 20 {
		t.Fatalf("expected next run in 20s, got %d", status.NextRunSeconds)
	}
	if status.RunCount != 7 || status.Name != TierClosing5m {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusOf_OverdueClampsToZero(t *testing.T) {
	now := time.Now()
	lastRun := now.Add(-10 * time.Minute)
	tier := models.PipelineTier{IsEnabled: true, IntervalSeconds: 60, LastRunAt: &lastRun}

	if status := StatusOf(tier, now); status.NextRunSeconds != 0 {
		t.Fatalf("overdue tier should report 0, got %d", status.NextRunSeconds)
	}
}

func TestStatusOf_DisabledAndNeverRun(t *testing.T) {
	now := time.Now()

	disabled := models.PipelineTier{IsEnabled: false, IntervalSeconds: 60}
	if status := StatusOf(disabled, now); status.NextRunSeconds != -1 {
		t.Fatalf("disabled tier should report -1, got %d", status.NextRunSeconds)
	}

	fresh := models.PipelineTier{IsEnabled: true, IntervalSeconds: 60}
	if status := StatusOf(fresh, now); status.NextRunSeconds != 0 {
		t.Fatalf("never-run tier should report 0, got %d", status.NextRunSeconds)
	}
}

func TestLotHasEnded(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if lotHasEnded(nil, now) {
		t.Fatal("nil end date must not end a lot")
	}
	if lotHasEnded(&future, now) {
		t.Fatal("future end date must not end a lot")
	}
	if !lotHasEnded(&past, now) {
		t.Fatal("past end date must end a lot")
	}
	if !lotHasEnded(&now, now) {
		t.Fatal("an end date exactly at now must end a lot")
	}
}
