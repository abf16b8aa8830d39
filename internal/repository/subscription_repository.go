package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/propstack/mail-worker/internal/models"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create persists a new webhook subscription registration.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetBySubscriptionID looks up a subscription by its provider-side ID.
func (r *SubscriptionRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	result := r.db.WithContext(ctx).First(&sub, "subscription_id = ?", subscriptionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", result.Error)
	}
	return &sub, nil
}

// UpdateLastNotification bumps the last-notification timestamp.
func (r *SubscriptionRepository) UpdateLastNotification(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_notification_at": at,
			"updated_at":           time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update last notification: %w", result.Error)
	}
	return nil
}

// UpdateExpiration stores the new provider-side expiry after a renewal.
func (r *SubscriptionRepository) UpdateExpiration(ctx context.Context, id string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"expires_at": expiresAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update expiration: %w", result.Error)
	}
	return nil
}

// Deactivate marks a subscription inactive; notifications for it are dropped.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.SubscriptionStatusInactive,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", result.Error)
	}
	return nil
}
