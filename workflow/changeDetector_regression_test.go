package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestRecordIfChanged_TrajectoryRules(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	lot := "L-DETECTOR-1"
	seedListing(t, db, lot)

	bid := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}
	end := time.Now().Add(48 * time.Hour).Truncate(time.Second)

	// First ever observation: exactly one baseline entry, previous bid nil.
	entry, err := workflow.RecordIfChanged(ctx, db, lot, nil, bid("1000"), &end, "ingest")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if entry == nil || entry.PreviousBid != nil {
		t.Fatalf("baseline entry must have nil previous bid, got %+v", entry)
	}
	if !entry.NewBid.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("baseline new bid expected 1000, got %s", entry.NewBid)
	}

	listing, err := models.GetListing(ctx, db, lot)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.LastChangedAt != nil {
		t.Fatal("baseline must not move last_changed_at")
	}

	// Same amount again: nothing written, even with a new end date.
	laterEnd := end.Add(time.Hour)
	entry, err = workflow.RecordIfChanged(ctx, db, lot, bid("1000"), bid("1000"), &laterEnd, "closing-1h")
	if err != nil {
		t.Fatalf("unchanged: %v", err)
	}
	if entry != nil {
		t.Fatalf("unchanged amount must write nothing, got %+v", entry)
	}

	// A real change appends and moves last_changed_at.
	entry, err = workflow.RecordIfChanged(ctx, db, lot, bid("1000"), bid("1500"), &laterEnd, "closing-5m")
	if err != nil {
		t.Fatalf("change: %v", err)
	}
	if entry == nil || entry.PreviousBid == nil || !entry.PreviousBid.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("change entry must carry previous bid 1000, got %+v", entry)
	}

	listing, err = models.GetListing(ctx, db, lot)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.LastChangedAt == nil {
		t.Fatal("change must move last_changed_at")
	}

	// Replaying the same transition is a no-op (double-processed unit).
	entry, err = workflow.RecordIfChanged(ctx, db, lot, bid("1000"), bid("1500"), &laterEnd, "closing-5m")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if entry != nil {
		t.Fatalf("replayed transition must write nothing, got %+v", entry)
	}

	history, err := models.ListPriceHistory(ctx, db, lot, 10, 0)
	if err != nil {
		t.Fatalf("ListPriceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected exactly 2 entries (baseline + change), got %d", len(history))
	}
}

func TestReclaimStaleWorkUnits_ResetsOnlyTimedOutProcessing(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	for _, lot := range []string{"L-STUCK-1", "L-STUCK-2", "L-FRESH-1"} {
		if err := models.EnqueueWorkUnit(ctx, db, models.PipelineTypeIngest, lot); err != nil {
			t.Fatalf("enqueue %s: %v", lot, err)
		}
	}

	claimed, err := models.ClaimPendingWorkUnits(ctx, db, models.PipelineTypeIngest, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed units, got %d", len(claimed))
	}

	// Age two of the three past the timeout.
	stale := time.Now().Add(-30 * time.Minute)
	if err := db.WithContext(ctx).Model(&models.WorkUnit{}).
		Where("lot_number IN ?", []string{"L-STUCK-1", "L-STUCK-2"}).
		Update("status_changed_at", stale).Error; err != nil {
		t.Fatalf("age units: %v", err)
	}

	reclaimed, err := models.ReclaimStaleWorkUnits(ctx, db, models.PipelineTypeIngest, workflow.DefaultStuckTimeout)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("expected 2 reclaimed units, got %d", reclaimed)
	}

	counts, err := models.CountWorkUnits(ctx, db, models.PipelineTypeIngest)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Pending != 2 || counts.Processing != 1 {
		t.Fatalf("expected 2 pending / 1 processing, got %+v", counts)
	}

	var unit models.WorkUnit
	if err := db.WithContext(ctx).Where("lot_number = ?", "L-STUCK-1").First(&unit).Error; err != nil {
		t.Fatalf("load unit: %v", err)
	}
	if !strings.Contains(unit.ErrorMessage, "reset from stuck processing") {
		t.Fatalf("reclaimed unit must carry a reset message, got %q", unit.ErrorMessage)
	}
	if unit.Attempts != 1 {
		t.Fatalf("reclaim must not bump attempts, got %d", unit.Attempts)
	}
}

func TestClaimTierRun_RefusesOverlap(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	tier := models.PipelineTier{
		Name:            "overlap-test",
		IsEnabled:       true,
		IntervalSeconds: 60,
	}
	if err := models.SeedPipelineTiers(ctx, db, []models.PipelineTier{tier}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	claimed, err := models.ClaimTierRun(ctx, db, "overlap-test")
	if err != nil || !claimed {
		t.Fatalf("first claim must succeed, got %v %v", claimed, err)
	}

	claimed, err = models.ClaimTierRun(ctx, db, "overlap-test")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim must be refused while the first run is in flight")
	}

	if err := models.FinishTierRun(ctx, db, "overlap-test", time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}

	stored, err := models.GetPipelineTier(ctx, db, "overlap-test")
	if err != nil {
		t.Fatalf("get tier: %v", err)
	}
	if stored.IsRunning || stored.RunCount != 1 || stored.LastRunAt == nil {
		t.Fatalf("finish must release the flag and record the run, got %+v", stored)
	}

	claimed, err = models.ClaimTierRun(ctx, db, "overlap-test")
	if err != nil || !claimed {
		t.Fatalf("claim after finish must succeed, got %v %v", claimed, err)
	}
}

func TestRequeueFailedWorkUnit_MarksManualOrigin(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	if err := models.EnqueueWorkUnit(ctx, db, models.PipelineTypeIngest, "MAN1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := models.ClaimPendingWorkUnits(ctx, db, models.PipelineTypeIngest, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d units)", err, len(claimed))
	}
	if claimed[0].RequeuedManually {
		t.Fatal("fresh unit must not carry the manual mark")
	}
	if err := models.FailWorkUnit(ctx, db, claimed[0].ID, "portal timeout"); err != nil {
		t.Fatalf("fail unit: %v", err)
	}

	if err := models.RequeueFailedWorkUnit(ctx, db, models.PipelineTypeIngest, "MAN1"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	claimed, err = models.ClaimPendingWorkUnits(ctx, db, models.PipelineTypeIngest, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim after requeue: %v (%d units)", err, len(claimed))
	}
	if !claimed[0].RequeuedManually {
		t.Fatal("requeued unit must carry the manual mark")
	}

	if err := models.CompleteWorkUnit(ctx, db, claimed[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	var unit models.WorkUnit
	if err := db.Where("pipeline_type = ? AND lot_number = ?", models.PipelineTypeIngest, "MAN1").
		First(&unit).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if unit.RequeuedManually {
		t.Fatal("completion must clear the manual mark")
	}

	// An automatic re-enqueue of the completed unit stays unmarked.
	if err := models.EnqueueWorkUnit(ctx, db, models.PipelineTypeIngest, "MAN1"); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	claimed, err = models.ClaimPendingWorkUnits(ctx, db, models.PipelineTypeIngest, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim after re-enqueue: %v (%d units)", err, len(claimed))
	}
	if claimed[0].RequeuedManually {
		t.Fatal("automatic re-enqueue must not carry the manual mark")
	}
}

func TestMarkListingEnded_LeavesTierQueries(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	seedListing(t, db, "END1")
	seedListing(t, db, "END2")

	active, err := models.ListEndingWithin(ctx, db, 0)
	if err != nil {
		t.Fatalf("full sweep: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active lots before ending, got %d", len(active))
	}

	if err := models.MarkListingEnded(ctx, db, "END1"); err != nil {
		t.Fatalf("mark ended: %v", err)
	}

	listing, err := models.GetListing(ctx, db, "END1")
	if err != nil {
		t.Fatalf("reload listing: %v", err)
	}
	if !listing.HasEnded {
		t.Fatal("expected has_ended to be set")
	}

	active, err = models.ListEndingWithin(ctx, db, 0)
	if err != nil {
		t.Fatalf("full sweep after ending: %v", err)
	}
	if len(active) != 1 || active[0].LotNumber != "END2" {
		t.Fatalf("ended lot must leave the full sweep, got %+v", active)
	}
}

func seedListing(t *testing.T, db *gorm.DB, lot string) {
	t.Helper()
	endDate := time.Now().Add(72 * time.Hour)
	listing := &models.Listing{
		LotNumber: lot,
		Category:  models.ListingCategoryRealEstate,
		Title:     "Test property " + lot,
		BaseValue: decimal.RequireFromString("50000"),
		District:  "Lisboa",
		EndDate:   &endDate,
	}
	if err := models.UpsertListing(context.Background(), db, listing); err != nil {
		t.Fatalf("seed listing %s: %v", lot, err)
	}
}

func setupIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "leilaotrack_test")

	db := config.ConnectDatabaseWithRetry()
	models.MigrateTable(db)
	return db
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("auctions-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=leilaotrack_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
