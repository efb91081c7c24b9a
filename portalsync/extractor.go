package portalsync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Detail-page selectors. The portal renders a single lot page plus two
// category detail fragments (property / vehicle) behind a query parameter.
const (
	selLotNumber    = "[data-lot-number]"
	selTitle        = ".lot-header .lot-title"
	selCurrentBid   = ".lot-bidbox .current-bid-value"
	selEndDate      = ".lot-bidbox .end-date-value"
	selStartDate    = ".lot-bidbox .start-date-value"
	selBaseValue    = ".lot-values .base-value"
	selOpeningValue = ".lot-values .opening-value"
	selMinimumValue = ".lot-values .minimum-value"
	selDescription  = ".lot-description"
	selObservations = ".lot-observations"
	selDistrict     = ".lot-location .district"
	selMunicipality = ".lot-location .municipality"
	selParish       = ".lot-location .parish"
	selGalleryImage = ".lot-gallery img"
	selCancelled    = ".lot-status .cancelled"
	selEnded        = ".lot-status .ended"

	selArea     = ".lot-detail .area-value"
	selTypology = ".lot-detail .typology-value"
	selPlate    = ".lot-detail .plate-value"
	selBrand    = ".lot-detail .brand-value"
	selModel    = ".lot-detail .model-value"
)

// Extractor fetches and normalizes one lot at a time. The volatile pass
// reads only the two fields that change most (current bid, end date) with a
// short timeout; the full pass renders the whole page plus both category
// detail fragments and extracts every structured field.
type Extractor struct {
	baseURL         string
	logger          *logrus.Logger
	volatileTimeout time.Duration
	fullTimeout     time.Duration
	settle          time.Duration
}

func NewExtractor(logger *logrus.Logger) *Extractor {
	baseURL := strings.TrimSpace(os.Getenv("PORTAL_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://www.e-leiloes.pt"
	}
	return &Extractor{
		baseURL:         strings.TrimRight(baseURL, "/"),
		logger:          logger,
		volatileTimeout: time.Duration(config.IntFromEnv("PORTAL_VOLATILE_TIMEOUT_SECONDS", 8)) * time.Second,
		fullTimeout:     time.Duration(config.IntFromEnv("PORTAL_FULL_TIMEOUT_SECONDS", 45)) * time.Second,
		settle:          time.Duration(config.IntFromEnv("PORTAL_SETTLE_MS", 1500)) * time.Millisecond,
	}
}

func (e *Extractor) detailURL(lot string) string {
	return fmt.Sprintf("%s/lote/%s", e.baseURL, lot)
}

func (e *Extractor) detailFragmentURL(lot, fragment string) string {
	return fmt.Sprintf("%s/lote/%s?detail=%s", e.baseURL, lot, fragment)
}

// FetchVolatile reads current bid and end date only. It navigates the lot
// page but extracts just the two nodes, with a single-digit-seconds timeout;
// structured detail extraction is skipped entirely.
func (e *Extractor) FetchVolatile(ctx context.Context, browser *Browser, lot string) (*VolatileFields, error) {
	tabCtx, cancelTab := chromedp.NewContext(browser.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, e.volatileTimeout)
	defer cancelTimeout()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-done:
		}
	}()

	var bidText, endText string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(e.detailURL(lot)),
		chromedp.WaitVisible(selCurrentBid, chromedp.ByQuery),
		chromedp.Text(selCurrentBid, &bidText, chromedp.ByQuery),
		chromedp.Text(selEndDate, &endText, chromedp.ByQuery),
	)
	if err != nil {
		return nil, newFetchError(lot, "volatile", err)
	}

	return e.parseVolatile(lot, bidText, endText)
}

// parseVolatile normalizes the two cheap-pass nodes. A missing or blank end
// date is a parse failure, not an absent field: an active lot always shows
// one, so silently accepting nil would wipe a known end date downstream.
func (e *Extractor) parseVolatile(lot, bidText, endText string) (*VolatileFields, error) {
	fields := &VolatileFields{}

	if trimmed := strings.TrimSpace(bidText); trimmed != "" && !strings.EqualFold(trimmed, "sem licitações") {
		bid, perr := utils.ParseDecimal(trimmed)
		if perr != nil {
			return nil, parseFailure(lot, "volatile", "current_bid")
		}
		fields.CurrentBid = &bid
	}

	endDate, perr := utils.ParsePortalTime(endText)
	if perr != nil || endDate == nil {
		return nil, parseFailure(lot, "volatile", "end_date")
	}
	fields.EndDate = endDate

	return fields, nil
}

// FetchFull renders the lot page and both category detail fragments, then
// normalizes everything into a Listing. The portal gives no reliable
// category flag, so both fragments are fetched and the category is inferred
// from which fields actually came back (double-fetch-then-classify).
func (e *Extractor) FetchFull(ctx context.Context, browser *Browser, lot string) (*models.Listing, error) {
	mainHTML, err := browser.FetchRenderedHTML(ctx, e.detailURL(lot), e.fullTimeout, e.settle)
	if err != nil {
		return nil, newFetchError(lot, "full", err)
	}

	propertyHTML, err := browser.FetchRenderedHTML(ctx, e.detailFragmentURL(lot, "imovel"), e.fullTimeout, e.settle)
	if err != nil {
		return nil, newFetchError(lot, "full_property", err)
	}

	vehicleHTML, err := browser.FetchRenderedHTML(ctx, e.detailFragmentURL(lot, "veiculo"), e.fullTimeout, e.settle)
	if err != nil {
		return nil, newFetchError(lot, "full_vehicle", err)
	}

	return e.parseFullListing(lot, mainHTML, propertyHTML, vehicleHTML)
}

func (e *Extractor) parseFullListing(lot, mainHTML, propertyHTML, vehicleHTML string) (*models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(mainHTML))
	if err != nil {
		return nil, newFetchError(lot, "full", err)
	}

	title := text(doc, selTitle)
	if title == "" {
		return nil, parseFailure(lot, "full", "title")
	}

	now := time.Now()
	listing := &models.Listing{
		LotNumber:     lot,
		Title:         title,
		Description:   text(doc, selDescription),
		Observations:  text(doc, selObservations),
		District:      text(doc, selDistrict),
		Municipality:  text(doc, selMunicipality),
		Parish:        text(doc, selParish),
		IsCancelled:   doc.Find(selCancelled).Length() > 0,
		HasEnded:      doc.Find(selEnded).Length() > 0,
		LastFetchedAt: &now,
	}

	if bidText := text(doc, selCurrentBid); bidText != "" && !strings.EqualFold(bidText, "sem licitações") {
		bid, perr := utils.ParseDecimal(bidText)
		if perr != nil {
			return nil, parseFailure(lot, "full", "current_bid")
		}
		listing.CurrentBid = &bid
	}

	listing.BaseValue = optionalDecimal(doc, selBaseValue)
	listing.OpeningValue = optionalDecimal(doc, selOpeningValue)
	listing.MinimumValue = optionalDecimal(doc, selMinimumValue)

	if listing.StartDate, err = utils.ParsePortalTime(text(doc, selStartDate)); err != nil {
		return nil, parseFailure(lot, "full", "start_date")
	}
	if listing.EndDate, err = utils.ParsePortalTime(text(doc, selEndDate)); err != nil {
		return nil, parseFailure(lot, "full", "end_date")
	}

	var imageURLs []string
	doc.Find(selGalleryImage).Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			imageURLs = append(imageURLs, src)
		}
	})
	listing.Images = filterGalleryImages(imageURLs)

	property := e.extractPropertyFields(propertyHTML)
	vehicle := e.extractVehicleFields(vehicleHTML)
	listing.Category = classifyCategory(property, vehicle)

	switch listing.Category {
	case models.ListingCategoryRealEstate:
		listing.Area = property.area
		listing.Typology = property.typology
	case models.ListingCategoryVehicle:
		listing.PlateNumber = vehicle.plate
		listing.Brand = vehicle.brand
		listing.Model = vehicle.model
	}

	return listing, nil
}

type propertyFields struct {
	area     *decimal.Decimal
	typology string
}

type vehicleFields struct {
	plate string
	brand string
	model string
}

func (e *Extractor) extractPropertyFields(html string) propertyFields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return propertyFields{}
	}
	fields := propertyFields{typology: text(doc, selTypology)}
	if areaText := text(doc, selArea); areaText != "" {
		if area, perr := utils.ParseDecimal(strings.TrimSuffix(areaText, "m²")); perr == nil {
			fields.area = &area
		}
	}
	return fields
}

func (e *Extractor) extractVehicleFields(html string) vehicleFields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return vehicleFields{}
	}
	return vehicleFields{
		plate: text(doc, selPlate),
		brand: text(doc, selBrand),
		model: text(doc, selModel),
	}
}

// classifyCategory infers the lot category from which detail fragment
// produced usable fields. A plate number is the strongest vehicle signal;
// typology/area the property one. Neither present means the lot is outside
// the two enriched categories.
func classifyCategory(property propertyFields, vehicle vehicleFields) models.ListingCategory {
	if vehicle.plate != "" || (vehicle.brand != "" && vehicle.model != "") {
		return models.ListingCategoryVehicle
	}
	if property.typology != "" || property.area != nil {
		return models.ListingCategoryRealEstate
	}
	return models.ListingCategoryOther
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func optionalDecimal(doc *goquery.Document, selector string) decimal.Decimal {
	raw := text(doc, selector)
	if raw == "" {
		return decimal.Zero
	}
	value, err := utils.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}
