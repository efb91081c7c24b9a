package portalsync

import (
	"errors"
	"strings"
	"testing"

	"github.com/leilaotrack/auctions_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testExtractor() *Extractor {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewExtractor(logger)
}

const mainPageHTML = `
<html><body>
  <div class="lot-header"><h1 class="lot-title">Apartamento T3 em Lisboa</h1></div>
  <div class="lot-bidbox">
    <span class="current-bid-value">125.500,00 €</span>
    <span class="end-date-value">15-09-2026 18:00</span>
    <span class="start-date-value">01-09-2026 10:00</span>
  </div>
  <div class="lot-values">
    <span class="base-value">150.000,00 €</span>
    <span class="opening-value">105.000,00 €</span>
    <span class="minimum-value">127.500,00 €</span>
  </div>
  <div class="lot-description">Fração autónoma destinada a habitação.</div>
  <div class="lot-location">
    <span class="district">Lisboa</span>
    <span class="municipality">Lisboa</span>
    <span class="parish">Arroios</span>
  </div>
  <div class="lot-gallery">
    <img src="https://cdn.e-leiloes.pt/storage/L100/a.jpg"/>
    <img src="https://cdn.e-leiloes.pt/storage/L200/intruder.jpg"/>
    <img src="https://cdn.e-leiloes.pt/storage/L100/b.jpg"/>
  </div>
</body></html>`

const propertyFragmentHTML = `
<div class="lot-detail">
  <span class="typology-value">T3</span>
  <span class="area-value">92,50m²</span>
</div>`

const vehicleFragmentHTML = `
<div class="lot-detail">
  <span class="plate-value">AA-12-BB</span>
  <span class="brand-value">Renault</span>
  <span class="model-value">Clio</span>
</div>`

func TestParseFullListing_Property(t *testing.T) {
	e := testExtractor()

	listing, err := e.parseFullListing("L100", mainPageHTML, propertyFragmentHTML, "<div></div>")
	if err != nil {
		t.Fatalf("parseFullListing: %v", err)
	}

	if listing.LotNumber != "L100" {
		t.Fatalf("expected lot L100, got %s", listing.LotNumber)
	}
	if listing.Title != "Apartamento T3 em Lisboa" {
		t.Fatalf("unexpected title %q", listing.Title)
	}
	if listing.Category != models.ListingCategoryRealEstate {
		t.Fatalf("expected RE, got %s", listing.Category)
	}
	if listing.CurrentBid == nil || !listing.CurrentBid.Equal(decimal.RequireFromString("125500.00")) {
		t.Fatalf("unexpected current bid %v", listing.CurrentBid)
	}
	if !listing.BaseValue.Equal(decimal.RequireFromString("150000.00")) {
		t.Fatalf("unexpected base value %s", listing.BaseValue)
	}
	if listing.EndDate == nil || listing.EndDate.Day() != 15 || listing.EndDate.Month() != 9 {
		t.Fatalf("unexpected end date %v", listing.EndDate)
	}
	if listing.Typology != "T3" {
		t.Fatalf("expected typology T3, got %q", listing.Typology)
	}
	if listing.Area == nil || !listing.Area.Equal(decimal.RequireFromString("92.50")) {
		t.Fatalf("unexpected area %v", listing.Area)
	}
	if listing.District != "Lisboa" || listing.Parish != "Arroios" {
		t.Fatalf("unexpected location %s/%s", listing.District, listing.Parish)
	}

	// Cross-referenced image from another lot's folder is dropped.
	if len(listing.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", listing.Images)
	}
	for _, img := range listing.Images {
		if !strings.Contains(img, "/L100/") {
			t.Fatalf("image from wrong folder kept: %s", img)
		}
	}
}

func TestParseFullListing_Vehicle(t *testing.T) {
	e := testExtractor()

	listing, err := e.parseFullListing("V200", mainPageHTML, "<div></div>", vehicleFragmentHTML)
	if err != nil {
		t.Fatalf("parseFullListing: %v", err)
	}
	if listing.Category != models.ListingCategoryVehicle {
		t.Fatalf("expected VE, got %s", listing.Category)
	}
	if listing.PlateNumber != "AA-12-BB" || listing.Brand != "Renault" || listing.Model != "Clio" {
		t.Fatalf("unexpected vehicle fields %q %q %q", listing.PlateNumber, listing.Brand, listing.Model)
	}
	if listing.Typology != "" || listing.Area != nil {
		t.Fatalf("property fields must be empty for a vehicle lot")
	}
}

func TestParseFullListing_NoBid(t *testing.T) {
	html := strings.Replace(mainPageHTML, "125.500,00 €", "Sem licitações", 1)
	e := testExtractor()

	listing, err := e.parseFullListing("L300", html, propertyFragmentHTML, "<div></div>")
	if err != nil {
		t.Fatalf("parseFullListing: %v", err)
	}
	if listing.CurrentBid != nil {
		t.Fatalf("expected nil bid for unbid lot, got %v", listing.CurrentBid)
	}
}

func TestParseFullListing_MissingTitleIsParseFailure(t *testing.T) {
	e := testExtractor()

	_, err := e.parseFullListing("L400", "<html><body></body></html>", "", "")
	if err == nil {
		t.Fatal("expected error for page without title")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != FetchParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestClassifyCategory(t *testing.T) {
	area := decimal.RequireFromString("50")
	cases := []struct {
		name     string
		property propertyFields
		vehicle  vehicleFields
		expected models.ListingCategory
	}{
		{"plate wins", propertyFields{typology: "T2"}, vehicleFields{plate: "AA-11-AA"}, models.ListingCategoryVehicle},
		{"brand and model", propertyFields{}, vehicleFields{brand: "Fiat", model: "Punto"}, models.ListingCategoryVehicle},
		{"brand alone is not enough", propertyFields{}, vehicleFields{brand: "Fiat"}, models.ListingCategoryOther},
		{"typology", propertyFields{typology: "T1"}, vehicleFields{}, models.ListingCategoryRealEstate},
		{"area only", propertyFields{area: &area}, vehicleFields{}, models.ListingCategoryRealEstate},
		{"neither", propertyFields{}, vehicleFields{}, models.ListingCategoryOther},
	}
	for _, tc := range cases {
		if got := classifyCategory(tc.property, tc.vehicle); got != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestParseIndexPage(t *testing.T) {
	html := `
	<div class="search-results">
	  <div class="lot-card" data-lot-number="L1"></div>
	  <div class="lot-card" data-lot-number=" L2 "></div>
	  <div class="lot-card" data-lot-number=""></div>
	  <div class="lot-card"></div>
	</div>`

	lots, err := parseIndexPage(html)
	if err != nil {
		t.Fatalf("parseIndexPage: %v", err)
	}
	if len(lots) != 2 || lots[0] != "L1" || lots[1] != "L2" {
		t.Fatalf("unexpected lots %v", lots)
	}
}

func TestParseIndexPage_Empty(t *testing.T) {
	lots, err := parseIndexPage(`<div class="search-results"></div>`)
	if err != nil {
		t.Fatalf("parseIndexPage: %v", err)
	}
	if len(lots) != 0 {
		t.Fatalf("expected no lots, got %v", lots)
	}
}

func TestParseVolatile(t *testing.T) {
	e := testExtractor()

	fields, err := e.parseVolatile("L500", "98.000,00 €", "15-09-2026 18:00")
	if err != nil {
		t.Fatalf("parseVolatile: %v", err)
	}
	if fields.CurrentBid == nil || fields.CurrentBid.String() != "98000" {
		t.Fatalf("unexpected bid %v", fields.CurrentBid)
	}
	if fields.EndDate == nil || fields.EndDate.Day() != 15 {
		t.Fatalf("unexpected end date %v", fields.EndDate)
	}

	fields, err = e.parseVolatile("L500", "Sem licitações", "15-09-2026 18:00")
	if err != nil {
		t.Fatalf("parseVolatile no-bid: %v", err)
	}
	if fields.CurrentBid != nil {
		t.Fatalf("expected nil bid, got %v", fields.CurrentBid)
	}
}

func TestParseVolatile_BlankEndDateIsParseFailure(t *testing.T) {
	e := testExtractor()

	for _, endText := range []string{"", "   ", "amanhã"} {
		_, err := e.parseVolatile("L500", "98.000,00 €", endText)
		if err == nil {
			t.Fatalf("expected error for end date %q", endText)
		}
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.Kind != FetchParseFailure {
			t.Fatalf("expected parse failure for end date %q, got %v", endText, err)
		}
	}
}

func TestParseVolatile_BadBidIsParseFailure(t *testing.T) {
	e := testExtractor()

	_, err := e.parseVolatile("L500", "not a number", "15-09-2026 18:00")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != FetchParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
}
