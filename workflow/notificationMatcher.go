package workflow

import (
	"context"
	"strings"

	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationChannel is the redis Pub/Sub channel local delivery consumers
// subscribe to. Durable delivery goes through the outbox dispatcher instead.
const NotificationChannel = "notifications"

// EvaluateRules matches one listing event against the active rules and
// returns the notifications to create. Pure: no store access, no side
// effects. An unset filter always passes; configured filters are ANDed.
func EvaluateRules(listing *models.Listing, event models.RuleType, oldBid, newBid *decimal.Decimal, rules []models.NotificationRule) []models.Notification {
	var notifs []models.Notification

	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive || rule.RuleType != event {
			continue
		}
		if !ruleMatches(rule, listing, oldBid, newBid) {
			continue
		}
		notifs = append(notifs, models.Notification{
			RuleID:      rule.ID,
			RuleType:    rule.RuleType,
			LotNumber:   listing.LotNumber,
			Title:       listing.Title,
			PreviousBid: oldBid,
			NewBid:      newBid,
			EndDate:     listing.EndDate,
		})
	}
	return notifs
}

func ruleMatches(rule *models.NotificationRule, listing *models.Listing, oldBid, newBid *decimal.Decimal) bool {
	if rule.Category != "" && rule.Category != listing.Category {
		return false
	}
	if rule.Typology != "" && !strings.EqualFold(rule.Typology, listing.Typology) {
		return false
	}
	if len(rule.Districts) > 0 && !containsFold(rule.Districts, listing.District) {
		return false
	}

	price := referencePrice(listing, newBid)
	if rule.MinPrice != nil && price.LessThan(*rule.MinPrice) {
		return false
	}
	if rule.MaxPrice != nil && price.GreaterThan(*rule.MaxPrice) {
		return false
	}

	if rule.MinVariation != nil && !rule.MinVariation.IsZero() {
		// Signed threshold: negative means "drops of at least this much",
		// positive "rises of at least this much". Without both amounts no
		// variation exists, so the filter cannot pass.
		if oldBid == nil || newBid == nil {
			return false
		}
		variation := newBid.Sub(*oldBid)
		if rule.MinVariation.IsNegative() {
			if variation.GreaterThan(*rule.MinVariation) {
				return false
			}
		} else if variation.LessThan(*rule.MinVariation) {
			return false
		}
	}

	return true
}

// referencePrice is what the price-bound filters compare against: the new
// bid when one exists, the base value otherwise (fresh lots have no bids).
func referencePrice(listing *models.Listing, newBid *decimal.Decimal) decimal.Decimal {
	if newBid != nil {
		return *newBid
	}
	if listing.CurrentBid != nil {
		return *listing.CurrentBid
	}
	return listing.BaseValue
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}

// MatchAndNotify runs the matcher for one event, persists whatever matched
// and fans the records out on the redis channel. Failures here never fail
// the caller's pipeline; they are logged and dropped.
func MatchAndNotify(ctx context.Context, db *gorm.DB, rdb *config.Redis, logger *logrus.Logger, listing *models.Listing, event models.RuleType, oldBid, newBid *decimal.Decimal) {
	rules, err := models.ListActiveRules(ctx, db, event)
	if err != nil {
		config.LogError(logger, "workflow", "MatchAndNotify", "list rules", listing.LotNumber, err)
		return
	}

	notifs := EvaluateRules(listing, event, oldBid, newBid, rules)
	if len(notifs) == 0 {
		return
	}

	if err := models.CreateNotifications(ctx, db, notifs); err != nil {
		config.LogError(logger, "workflow", "MatchAndNotify", "create notifications", listing.LotNumber, err)
		return
	}

	for i := range notifs {
		if err := rdb.PublishObject(ctx, NotificationChannel, &notifs[i]); err != nil {
			logger.WithFields(logrus.Fields{
				"module":       "workflow",
				"notification": notifs[i].ID,
				"lot":          listing.LotNumber,
			}).Warn("redis publish failed: " + err.Error())
		}
	}

	logger.WithFields(logrus.Fields{
		"module": "workflow",
		"lot":    listing.LotNumber,
		"event":  event,
		"count":  len(notifs),
	}).Info("notifications created")
}
