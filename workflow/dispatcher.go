package workflow

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationTopic is the Pub/Sub topic downstream delivery services
// subscribe to.
const NotificationTopic = "listing-notifications"

// OutboxDispatcher drains unpublished notification rows to Pub/Sub. Rows are
// written in the same transaction as the rule match, so a publish failure
// never loses a notification; it just retries on the next poll.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int

	topic *pubsub.Topic
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:           db,
		Logger:       logger,
		DispatcherID: uuid.NewString(),
		BatchSize:    50,
		PollInterval: 5 * time.Second,
		MaxAttempts:  20,
	}
}

// Run polls until ctx is cancelled. If Pub/Sub credentials are absent the
// dispatcher logs once and exits; notifications stay queryable over the API
// and on the redis channel.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		d.Logger.WithFields(logrus.Fields{
			"module": "OutboxDispatcher",
		}).Warn("pubsub unavailable; notification delivery disabled: " + err.Error())
		return
	}
	topic, err := config.CreateTopicIfNotExists(client, NotificationTopic)
	if err != nil {
		config.LogError(d.Logger, "OutboxDispatcher", "Run", "create topic", NotificationTopic, err)
		return
	}
	d.topic = topic
	defer d.topic.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	notifs, err := models.ListUnpublishedNotifications(ctx, d.DB, d.BatchSize, d.MaxAttempts)
	if err != nil {
		config.LogError(d.Logger, "OutboxDispatcher", "dispatchOnce", "list unpublished", nil, err)
		return
	}

	for _, notif := range notifs {
		data, err := json.Marshal(notif)
		if err != nil {
			_ = models.MarkNotificationPublishFailed(ctx, d.DB, notif.ID, "marshal: "+err.Error())
			continue
		}

		result := d.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"rule_type":     string(notif.RuleType),
				"lot_number":    notif.LotNumber,
				"dispatcher_id": d.DispatcherID,
			},
		})
		if _, err := result.Get(ctx); err != nil {
			_ = models.MarkNotificationPublishFailed(ctx, d.DB, notif.ID, err.Error())
			d.Logger.WithFields(logrus.Fields{
				"module":          "OutboxDispatcher",
				"notification_id": notif.ID,
				"lot":             notif.LotNumber,
				"attempt":         notif.PublishAttempts + 1,
			}).Error("notification publish failed: " + err.Error())
			continue
		}

		if err := models.MarkNotificationPublished(ctx, d.DB, notif.ID); err != nil {
			config.LogError(d.Logger, "OutboxDispatcher", "dispatchOnce", "mark published", notif.ID, err)
		}
	}
}
