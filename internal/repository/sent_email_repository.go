package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/propstack/mail-worker/internal/models"
)

var ErrSentEmailNotFound = errors.New("sent email not found")

type SentEmailRepository struct {
	db *gorm.DB
}

func NewSentEmailRepository(db *gorm.DB) *SentEmailRepository {
	return &SentEmailRepository{db: db}
}

// Create persists a new outbound message record.
func (r *SentEmailRepository) Create(ctx context.Context, email *models.SentEmail) error {
	if err := r.db.WithContext(ctx).Create(email).Error; err != nil {
		return fmt.Errorf("failed to create sent email: %w", err)
	}
	return nil
}

// GetByID retrieves a sent email by ID.
func (r *SentEmailRepository) GetByID(ctx context.Context, id string) (*models.SentEmail, error) {
	var email models.SentEmail
	result := r.db.WithContext(ctx).First(&email, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSentEmailNotFound
		}
		return nil, fmt.Errorf("failed to get sent email: %w", result.Error)
	}
	return &email, nil
}

// UpdateStatus transitions the delivery status. A move to "sent" stamps
// sent_at; a move to "failed" records the reason; any other move clears it.
func (r *SentEmailRepository) UpdateStatus(ctx context.Context, id string, status models.SentEmailStatus, failureReason *string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":         status,
		"failure_reason": failureReason,
		"updated_at":     now,
	}
	if status == models.SentStatusSent {
		updates["sent_at"] = now
	}

	result := r.db.WithContext(ctx).Model(&models.SentEmail{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update sent email status: %w", result.Error)
	}
	return nil
}
