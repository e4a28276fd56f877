package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beatstore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository is the durable inbox for gateway deliveries.
type WebhookEventRepository interface {
	// Record inserts the event if its id is new. It reports whether a row
	// was created; redeliveries leave the stored row untouched.
	Record(ctx context.Context, event *model.WebhookEvent) (bool, error)
	Get(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
	MarkFailed(ctx context.Context, eventID string, cause string) error
	// ListPending returns received or failed events that still have
	// attempts left, oldest first.
	ListPending(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookEvent, error)
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

func (r *webhookEventRepositoryImpl) Record(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	if event.Status == "" {
		event.Status = model.WebhookReceived
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)

	if result.Error != nil {
		return false, fmt.Errorf("record webhook event %s: %w", event.EventID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *webhookEventRepositoryImpl) Get(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&event).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("webhook event %s: %w", eventID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return &event, nil
}

func (r *webhookEventRepositoryImpl) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       model.WebhookProcessed,
			"attempts":     gorm.Expr("attempts + ?", 1),
			"last_error":   "",
			"processed_at": at,
		}).Error
}

// maxErrorLen caps last_error in runes.
const maxErrorLen = 1024

func (r *webhookEventRepositoryImpl) MarkFailed(ctx context.Context, eventID string, cause string) error {
	if r := []rune(cause); len(r) > maxErrorLen {
		cause = string(r[:maxErrorLen])
	}
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":     model.WebhookFailed,
			"attempts":   gorm.Expr("attempts + ?", 1),
			"last_error": cause,
		}).Error
}

func (r *webhookEventRepositoryImpl) ListPending(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.WebhookStatus{model.WebhookReceived, model.WebhookFailed}).
		Where("attempts < ?", maxAttempts).
		Order("received_at, event_id").
		Limit(limit).
		Find(&events).Error

	if err != nil {
		return nil, fmt.Errorf("list pending webhook events: %w", err)
	}
	return events, nil
}
