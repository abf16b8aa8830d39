package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/propstack/mail-worker/internal/models"
)

// CRMRepository provides the narrow read-mostly view of the CRM tables the
// worker needs for linkage. All Find* methods return (nil, nil) when no row
// matches, since a missing link is the normal case, not an error.
type CRMRepository struct {
	db *gorm.DB
}

func NewCRMRepository(db *gorm.DB) *CRMRepository {
	return &CRMRepository{db: db}
}

// FindConversationByEmail finds the most recently active conversation with
// the given address.
func (r *CRMRepository) FindConversationByEmail(ctx context.Context, userID string, email string) (*models.Conversation, error) {
	var conv models.Conversation
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(email_address) = LOWER(?)", userID, email).
		Order("last_message_at DESC NULLS LAST").
		First(&conv)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation: %w", result.Error)
	}
	return &conv, nil
}

// FindContactByEmail finds a contact by address.
func (r *CRMRepository) FindContactByEmail(ctx context.Context, userID string, email string) (*models.Contact, error) {
	var contact models.Contact
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(email) = LOWER(?)", userID, email).
		First(&contact)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find contact: %w", result.Error)
	}
	return &contact, nil
}

// FindEnquiryByEmail finds the newest open enquiry from the given address.
func (r *CRMRepository) FindEnquiryByEmail(ctx context.Context, userID string, email string) (*models.Enquiry, error) {
	var enquiry models.Enquiry
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(email) = LOWER(?)", userID, email).
		Order("created_at DESC").
		First(&enquiry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find enquiry: %w", result.Error)
	}
	return &enquiry, nil
}

// FindLeadByEmail finds the newest lead from the given address.
func (r *CRMRepository) FindLeadByEmail(ctx context.Context, userID string, email string) (*models.Lead, error) {
	var lead models.Lead
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(email) = LOWER(?)", userID, email).
		Order("created_at DESC").
		First(&lead)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead: %w", result.Error)
	}
	return &lead, nil
}

// TouchConversation bumps the conversation's last-message timestamp.
func (r *CRMRepository) TouchConversation(ctx context.Context, conversationID string, lastMessageAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_at": lastMessageAt,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch conversation: %w", result.Error)
	}
	return nil
}
