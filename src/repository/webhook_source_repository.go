package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// WebhookSourceRepository handles webhook sources and their admitted events.
type WebhookSourceRepository struct {
	db *gorm.DB
}

func NewWebhookSourceRepository() *WebhookSourceRepository {
	return &WebhookSourceRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *WebhookSourceRepository) WithDB(db *gorm.DB) *WebhookSourceRepository {
	return &WebhookSourceRepository{db: db}
}

// Create inserts a new source. The webhook code is immutable after this.
func (r *WebhookSourceRepository) Create(ctx context.Context, source *model.WebhookSource) error {
	err := r.db.WithContext(ctx).Create(source).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WebhookSourceRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create webhook source")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "WebhookSourceRepository",
		"op":        "Create",
		"source_id": source.ID,
	}).Info("Webhook source created")

	return nil
}

// FindByCode fetches a source by its webhook code with bindings preloaded.
// Returns (nil, nil) if the source is not found.
func (r *WebhookSourceRepository) FindByCode(ctx context.Context, code string) (*model.WebhookSource, error) {
	var source model.WebhookSource

	err := r.db.WithContext(ctx).
		Preload("Bindings").
		Where("webhook_code = ?", code).
		First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "WebhookSourceRepository",
				"op":   "FindByCode",
			}).Info("Webhook source not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "WebhookSourceRepository",
			"op":   "FindByCode",
		}).WithError(err).Error("Failed to fetch webhook source")
		return nil, err
	}

	return &source, nil
}

// RecordEvent appends one admitted payload. Must happen before job creation
// so the rate-limit window sees it.
func (r *WebhookSourceRepository) RecordEvent(ctx context.Context, event *model.WebhookEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "WebhookSourceRepository",
			"op":        "RecordEvent",
			"source_id": event.WebhookSourceID,
		}).WithError(err).Error("Failed to record webhook event")
		return err
	}
	return nil
}

// CountSince counts events for a source received after the given instant.
// Backs the sliding-window rate limit, so it is recomputed per call.
func (r *WebhookSourceRepository) CountSince(ctx context.Context, sourceID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("webhook_source_id = ? AND received_at > ?", sourceID, since).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "WebhookSourceRepository",
			"op":        "CountSince",
			"source_id": sourceID,
		}).WithError(err).Error("Failed to count webhook events")
		return 0, err
	}
	return count, nil
}
