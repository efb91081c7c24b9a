package workflow

import (
	"testing"

	"github.com/leilaotrack/auctions_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testListing() *models.Listing {
	bid := decimal.RequireFromString("80000")
	return &models.Listing{
		LotNumber:  "L100",
		Title:      "Apartamento T2 no Porto",
		Category:   models.ListingCategoryRealEstate,
		Typology:   "T2",
		District:   "Porto",
		CurrentBid: &bid,
		BaseValue:  decimal.RequireFromString("100000"),
	}
}

func TestEvaluateRules_EventTypeAndActiveGate(t *testing.T) {
	rules := []models.NotificationRule{
		{ID: 1, RuleType: models.RuleTypeNewListing, IsActive: true},
		{ID: 2, RuleType: models.RuleTypePriceChange, IsActive: true},
		{ID: 3, RuleType: models.RuleTypePriceChange, IsActive: false},
	}

	notifs := EvaluateRules(testListing(), models.RuleTypePriceChange, dec("70000"), dec("80000"), rules)
	if len(notifs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifs))
	}
	if notifs[0].RuleID != 2 {
		t.Fatalf("expected rule 2 to match, got %d", notifs[0].RuleID)
	}
	if notifs[0].LotNumber != "L100" || notifs[0].RuleType != models.RuleTypePriceChange {
		t.Fatalf("unexpected notification %+v", notifs[0])
	}
}

func TestEvaluateRules_CategoryTypologyDistrict(t *testing.T) {
	listing := testListing()
	cases := []struct {
		name    string
		rule    models.NotificationRule
		matches bool
	}{
		{"matching category", models.NotificationRule{Category: models.ListingCategoryRealEstate}, true},
		{"other category", models.NotificationRule{Category: models.ListingCategoryVehicle}, false},
		{"typology case-insensitive", models.NotificationRule{Typology: "t2"}, true},
		{"wrong typology", models.NotificationRule{Typology: "T4"}, false},
		{"district in list", models.NotificationRule{Districts: []string{"Lisboa", "porto"}}, true},
		{"district not in list", models.NotificationRule{Districts: []string{"Faro"}}, false},
		{"unset filters pass", models.NotificationRule{}, true},
	}
	for _, tc := range cases {
		rule := tc.rule
		rule.RuleType = models.RuleTypeNewListing
		rule.IsActive = true
		notifs := EvaluateRules(listing, models.RuleTypeNewListing, nil, nil, []models.NotificationRule{rule})
		if (len(notifs) == 1) != tc.matches {
			t.Fatalf("%s: expected matches=%v, got %d notifications", tc.name, tc.matches, len(notifs))
		}
	}
}

func TestEvaluateRules_PriceBoundsUseNewBidThenCurrentThenBase(t *testing.T) {
	listing := testListing()

	// newBid present: bounds compare against it.
	rule := models.NotificationRule{RuleType: models.RuleTypePriceChange, IsActive: true, MinPrice: dec("85000")}
	if n := EvaluateRules(listing, models.RuleTypePriceChange, dec("80000"), dec("90000"), []models.NotificationRule{rule}); len(n) != 1 {
		t.Fatal("expected match against new bid 90000")
	}
	if n := EvaluateRules(listing, models.RuleTypePriceChange, dec("70000"), dec("80000"), []models.NotificationRule{rule}); len(n) != 0 {
		t.Fatal("expected no match against new bid 80000")
	}

	// No bids at all: base value is the reference.
	fresh := testListing()
	fresh.CurrentBid = nil
	newRule := models.NotificationRule{RuleType: models.RuleTypeNewListing, IsActive: true, MinPrice: dec("95000"), MaxPrice: dec("110000")}
	if n := EvaluateRules(fresh, models.RuleTypeNewListing, nil, nil, []models.NotificationRule{newRule}); len(n) != 1 {
		t.Fatal("expected base value 100000 to fall inside bounds")
	}
}

func TestEvaluateRules_MinVariationSigned(t *testing.T) {
	listing := testListing()

	rise := models.NotificationRule{RuleType: models.RuleTypePriceChange, IsActive: true, MinVariation: dec("5000")}
	drop := models.NotificationRule{RuleType: models.RuleTypePriceChange, IsActive: true, MinVariation: dec("-5000")}

	cases := []struct {
		name    string
		rule    models.NotificationRule
		old     *decimal.Decimal
		new     *decimal.Decimal
		matches bool
	}{
		{"rise above threshold", rise, dec("80000"), dec("86000"), true},
		{"rise below threshold", rise, dec("80000"), dec("83000"), false},
		{"drop does not satisfy rise rule", rise, dec("80000"), dec("70000"), false},
		{"drop beyond threshold", drop, dec("80000"), dec("74000"), true},
		{"drop too small", drop, dec("80000"), dec("78000"), false},
		{"rise does not satisfy drop rule", drop, dec("80000"), dec("90000"), false},
		{"missing old bid fails filter", rise, nil, dec("86000"), false},
		{"missing new bid fails filter", rise, dec("80000"), nil, false},
	}
	for _, tc := range cases {
		n := EvaluateRules(listing, models.RuleTypePriceChange, tc.old, tc.new, []models.NotificationRule{tc.rule})
		if (len(n) == 1) != tc.matches {
			t.Fatalf("%s: expected matches=%v, got %d", tc.name, tc.matches, len(n))
		}
	}
}

func TestEvaluateRules_NotificationCarriesBids(t *testing.T) {
	rule := models.NotificationRule{ID: 7, RuleType: models.RuleTypePriceChange, IsActive: true}
	notifs := EvaluateRules(testListing(), models.RuleTypePriceChange, dec("70000"), dec("80000"), []models.NotificationRule{rule})
	if len(notifs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifs))
	}
	n := notifs[0]
	if n.PreviousBid == nil || !n.PreviousBid.Equal(decimal.RequireFromString("70000")) {
		t.Fatalf("unexpected previous bid %v", n.PreviousBid)
	}
	if n.NewBid == nil || !n.NewBid.Equal(decimal.RequireFromString("80000")) {
		t.Fatalf("unexpected new bid %v", n.NewBid)
	}
}
