package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/scheduler"
)

// Seeds the default pipeline tiers and prints the stored table. Existing
// rows are never touched, so operator overrides survive a re-run.
func main() {
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before seeding")
	release := flag.Bool("release-stale-runs", false, "Clear is_running flags left by a crashed scheduler")
	flag.Parse()

	db := config.ConnectDatabaseWithRetry()
	ctx := context.Background()

	if *migrate {
		models.MigrateTable(db)
	}

	if err := models.SeedPipelineTiers(ctx, db, scheduler.DefaultTiers()); err != nil {
		fmt.Fprintln(os.Stderr, "seed failed:", err)
		os.Exit(1)
	}

	if *release {
		if err := models.ReleaseTierRuns(ctx, db); err != nil {
			fmt.Fprintln(os.Stderr, "release failed:", err)
			os.Exit(1)
		}
	}

	tiers, err := models.ListPipelineTiers(ctx, db)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list failed:", err)
		os.Exit(1)
	}
	for _, tier := range tiers {
		fmt.Printf("%-14s enabled=%-5v interval=%ds threshold=%dm runs=%d\n",
			tier.Name, tier.IsEnabled, tier.IntervalSeconds, tier.ThresholdMinutes, tier.RunCount)
	}
}
