package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/propstack/mail-worker/internal/models"
)

var ErrProcessedEmailNotFound = errors.New("processed email not found")

type ProcessedEmailRepository struct {
	db *gorm.DB
}

func NewProcessedEmailRepository(db *gorm.DB) *ProcessedEmailRepository {
	return &ProcessedEmailRepository{db: db}
}

// Create persists an inbound message record.
func (r *ProcessedEmailRepository) Create(ctx context.Context, email *models.ProcessedEmail) error {
	if err := r.db.WithContext(ctx).Create(email).Error; err != nil {
		return fmt.Errorf("failed to create processed email: %w", err)
	}
	return nil
}

// GetByID retrieves a processed email by ID.
func (r *ProcessedEmailRepository) GetByID(ctx context.Context, id string) (*models.ProcessedEmail, error) {
	var email models.ProcessedEmail
	result := r.db.WithContext(ctx).First(&email, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrProcessedEmailNotFound
		}
		return nil, fmt.Errorf("failed to get processed email: %w", result.Error)
	}
	return &email, nil
}

// GetByMessageID looks up the record for a provider message on a connection.
// Returns (nil, nil) when the message has not been processed yet, so callers
// can use it directly as an idempotency check.
func (r *ProcessedEmailRepository) GetByMessageID(ctx context.Context, connectionID string, graphMessageID string) (*models.ProcessedEmail, error) {
	var email models.ProcessedEmail
	result := r.db.WithContext(ctx).
		First(&email, "connection_id = ? AND graph_message_id = ?", connectionID, graphMessageID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get processed email by message id: %w", result.Error)
	}
	return &email, nil
}

// UpdateAIAnalysis stores the AI classification on an existing record.
func (r *ProcessedEmailRepository) UpdateAIAnalysis(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["ai_processed"] = true
	updates["processing_status"] = models.ProcessingStatusAnalyzed
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&models.ProcessedEmail{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update AI analysis: %w", result.Error)
	}
	return nil
}
