package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/workflow"
)

// Deletes price history rows older than the retention window. Each lot's
// oldest and newest entry always survive, so the recorded trajectory keeps
// its full span. Run as a cron job, not on the API serving path.
func main() {
	olderThanDays := flag.Int("older-than-days", 180, "Delete rows recorded before this many days ago")
	dryRun := flag.Bool("dry-run", true, "Count candidate rows only (no writes)")
	confirm := flag.String("confirm", "", "Type SWEEP to proceed when dry-run=false")
	flag.Parse()

	if *olderThanDays <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than-days must be positive")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "SWEEP" {
		fmt.Fprintln(os.Stderr, "set --confirm=SWEEP to proceed")
		os.Exit(1)
	}

	db := config.ConnectDatabaseWithRetry()
	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -*olderThanDays)

	if *dryRun {
		// Upper bound: the per-lot first and last rows in this range are kept.
		var count int64
		if err := db.WithContext(ctx).
			Table("price_histories").
			Where("recorded_at < ?", cutoff).
			Count(&count).Error; err != nil {
			fmt.Fprintln(os.Stderr, "count failed:", err)
			os.Exit(1)
		}
		fmt.Printf("dry-run: %d rows recorded before %s (upper bound; per-lot endpoints are kept)\n", count, cutoff.Format(time.RFC3339))
		return
	}

	deleted, err := workflow.SweepPriceHistory(ctx, db, time.Duration(*olderThanDays)*24*time.Hour)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweep failed:", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %d price history rows recorded before %s\n", deleted, cutoff.Format(time.RFC3339))
}
