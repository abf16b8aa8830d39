package models

import "time"

type ConnectionStatus string

const (
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusError        ConnectionStatus = "error"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// EmailConnection is an authorized mailbox integration. The worker reads and
// refreshes its OAuth tokens and maintains a rolling error counter that acts
// as a lightweight circuit-breaker signal for operators.
type EmailConnection struct {
	ID             string           `gorm:"column:id;primaryKey"`
	UserID         string           `gorm:"column:user_id;index"`
	EmailAddress   string           `gorm:"column:email_address"`
	AccessToken    *string          `gorm:"column:access_token"`
	RefreshToken   *string          `gorm:"column:refresh_token"`
	TokenExpiresAt *time.Time       `gorm:"column:token_expires_at"`
	Status         ConnectionStatus `gorm:"column:status;index"`
	ErrorCount     int              `gorm:"column:error_count"`
	LastError      *string          `gorm:"column:last_error"`
	LastSyncAt     *time.Time       `gorm:"column:last_sync_at"`
	CreatedAt      time.Time        `gorm:"column:created_at"`
	UpdatedAt      time.Time        `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (EmailConnection) TableName() string {
	return "email_connections"
}
