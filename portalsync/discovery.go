package portalsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	selIndexCard    = ".search-results .lot-card"
	maxIndexPages   = 200
	indexCategoryRE = "imoveis"
	indexCategoryVE = "veiculos"
)

func indexCategorySlug(category models.ListingCategory) string {
	switch category {
	case models.ListingCategoryRealEstate:
		return indexCategoryRE
	case models.ListingCategoryVehicle:
		return indexCategoryVE
	default:
		return ""
	}
}

func (e *Extractor) indexURL(category models.ListingCategory, page int) string {
	slug := indexCategorySlug(category)
	if slug == "" {
		return fmt.Sprintf("%s/pesquisa?pagina=%d", e.baseURL, page)
	}
	return fmt.Sprintf("%s/pesquisa/%s?pagina=%d", e.baseURL, slug, page)
}

// DiscoverLots walks the paged index for one category and returns every lot
// number the portal currently advertises. Pagination stops at the first
// empty page (or the hard page cap, in case the portal misbehaves).
func (e *Extractor) DiscoverLots(ctx context.Context, browser *Browser, category models.ListingCategory) ([]string, error) {
	var lots []string

	for page := 1; page <= maxIndexPages; page++ {
		if ctx.Err() != nil {
			return lots, ctx.Err()
		}

		html, err := browser.FetchRenderedHTML(ctx, e.indexURL(category, page), e.fullTimeout, e.settle)
		if err != nil {
			return lots, newFetchError(fmt.Sprintf("index-page-%d", page), "discovery", err)
		}

		pageLots, err := parseIndexPage(html)
		if err != nil {
			return lots, &FetchError{
				Kind:      FetchParseFailure,
				LotNumber: fmt.Sprintf("index-page-%d", page),
				Stage:     "discovery",
				Err:       err,
			}
		}
		if len(pageLots) == 0 {
			break
		}

		lots = append(lots, pageLots...)

		e.logger.WithFields(logrus.Fields{
			"module":   "portalsync",
			"category": category,
			"page":     page,
			"lots":     len(pageLots),
		}).Debug("index page discovered")
	}

	return utils.UniqueSlice(lots), nil
}

func parseIndexPage(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var lots []string
	doc.Find(selIndexCard).Each(func(_ int, sel *goquery.Selection) {
		if lot, ok := sel.Attr("data-lot-number"); ok {
			lot = strings.TrimSpace(lot)
			if lot != "" {
				lots = append(lots, lot)
			}
		}
	})
	return lots, nil
}
