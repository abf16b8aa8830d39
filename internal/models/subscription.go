package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

// WebhookSubscription is a server-side registration with Microsoft Graph for
// a mailbox. Every inbound notification must present a clientState equal to
// the stored secret or it is rejected.
type WebhookSubscription struct {
	ID                 string             `gorm:"column:id;primaryKey"`
	SubscriptionID     string             `gorm:"column:subscription_id;uniqueIndex"`
	ConnectionID       string             `gorm:"column:connection_id;index"`
	UserID             string             `gorm:"column:user_id"`
	ClientState        string             `gorm:"column:client_state"`
	Status             SubscriptionStatus `gorm:"column:status"`
	ExpiresAt          time.Time          `gorm:"column:expires_at"`
	LastNotificationAt *time.Time         `gorm:"column:last_notification_at"`
	CreatedAt          time.Time          `gorm:"column:created_at"`
	UpdatedAt          time.Time          `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}
