package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NotificationRule is user-authored input: one saved filter set. An unset
// filter always passes; configured filters are ANDed.
type NotificationRule struct {
	ID             int              `gorm:"primary_key" json:"id"`
	Name           string           `gorm:"size:100;not null" json:"name" binding:"required"`
	RuleType       RuleType         `gorm:"type:enum('new_listing','price_change','ending_soon');not null" json:"rule_type" binding:"required"`
	IsActive       bool             `gorm:"default:true" json:"is_active"`
	Category       ListingCategory  `gorm:"type:enum('RE','VE','OT');default:null" json:"category"`
	Typology       string           `gorm:"size:20" json:"typology"`
	Districts      []string         `gorm:"serializer:json" json:"districts"`
	MinPrice       *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"min_price"`
	MaxPrice       *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"max_price"`
	MinVariation   *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"min_variation"`
	TimesTriggered int64            `gorm:"default:0" json:"times_triggered"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// Notification is pipeline output, immutable once created. The publish
// columns are outbox bookkeeping for the delivery dispatcher.
type Notification struct {
	ID               string           `gorm:"size:36;primary_key" json:"id"`
	RuleID           int              `gorm:"index;not null" json:"rule_id"`
	RuleType         RuleType         `gorm:"type:enum('new_listing','price_change','ending_soon');not null" json:"rule_type"`
	LotNumber        string           `gorm:"size:40;index;not null" json:"lot_number"`
	Title            string           `gorm:"size:255" json:"title"`
	PreviousBid      *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"previous_bid"`
	NewBid           *decimal.Decimal `gorm:"type:decimal(20,2);default:null" json:"new_bid"`
	EndDate          *time.Time       `gorm:"default:null" json:"end_date"`
	CreatedAt        time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	PublishedAt      *time.Time       `gorm:"default:null;index" json:"published_at"`
	PublishAttempts  int              `gorm:"default:0" json:"publish_attempts"`
	LastPublishError string           `gorm:"size:500" json:"last_publish_error"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

func ListActiveRules(ctx context.Context, db *gorm.DB, ruleType RuleType) ([]NotificationRule, error) {
	query := db.WithContext(ctx).Where("is_active = ?", true)
	if ruleType != "" {
		query = query.Where("rule_type = ?", ruleType)
	}
	var rules []NotificationRule
	err := query.Find(&rules).Error
	return rules, err
}

func ListRules(ctx context.Context, db *gorm.DB) ([]NotificationRule, error) {
	var rules []NotificationRule
	err := db.WithContext(ctx).Order("id ASC").Find(&rules).Error
	return rules, err
}

func CreateRule(ctx context.Context, db *gorm.DB, rule *NotificationRule) error {
	return db.WithContext(ctx).Create(rule).Error
}

// CreateNotifications persists the batch and bumps each matched rule's
// trigger counter in the same transaction.
func CreateNotifications(ctx context.Context, db *gorm.DB, notifs []Notification) error {
	if len(notifs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range notifs {
			if err := tx.Create(&notifs[i]).Error; err != nil {
				return err
			}
			if err := tx.Model(&NotificationRule{}).
				Where("id = ?", notifs[i].RuleID).
				Update("times_triggered", gorm.Expr("times_triggered + 1")).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func ListRecentNotifications(ctx context.Context, db *gorm.DB, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var notifs []Notification
	err := db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&notifs).Error
	return notifs, err
}

// ListUnpublishedNotifications feeds the delivery dispatcher, oldest first.
// Rows past maxAttempts are left for a human to requeue by clearing the
// attempt counter.
func ListUnpublishedNotifications(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	var notifs []Notification
	err := db.WithContext(ctx).
		Where("published_at IS NULL AND publish_attempts < ?", maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&notifs).Error
	return notifs, err
}

func MarkNotificationPublished(ctx context.Context, db *gorm.DB, id string) error {
	now := time.Now()
	return db.WithContext(ctx).Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"published_at":       &now,
			"last_publish_error": "",
		}).Error
}

func MarkNotificationPublishFailed(ctx context.Context, db *gorm.DB, id string, reason string) error {
	return db.WithContext(ctx).Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_attempts":   gorm.Expr("publish_attempts + 1"),
			"last_publish_error": utils.TruncateString(reason, 500),
		}).Error
}
