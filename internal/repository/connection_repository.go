package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/propstack/mail-worker/internal/models"
)

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// GetByID retrieves a connection by ID
func (r *ConnectionRepository) GetByID(ctx context.Context, connectionID string) (*models.EmailConnection, error) {
	var conn models.EmailConnection
	result := r.db.WithContext(ctx).First(&conn, "id = ?", connectionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", result.Error)
	}
	return &conn, nil
}

// UpdateTokens updates access token, refresh token, and their expiry times
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, connectionID string, accessToken string, refreshToken string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.EmailConnection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// RecordError increments the rolling error counter and stores the message.
// Operators use the counter as a connection health signal.
func (r *ConnectionRepository) RecordError(ctx context.Context, connectionID string, message string) error {
	result := r.db.WithContext(ctx).Model(&models.EmailConnection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"error_count": gorm.Expr("error_count + 1"),
			"last_error":  message,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record connection error: %w", result.Error)
	}
	return nil
}

// ClearError resets the error counter after a successful sync.
func (r *ConnectionRepository) ClearError(ctx context.Context, connectionID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.EmailConnection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"error_count":  0,
			"last_error":   nil,
			"last_sync_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear connection error: %w", result.Error)
	}
	return nil
}
