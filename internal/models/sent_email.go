package models

import "time"

type SentEmailStatus string

const (
	SentStatusQueued  SentEmailStatus = "queued"
	SentStatusSending SentEmailStatus = "sending"
	SentStatusSent    SentEmailStatus = "sent"
	SentStatusFailed  SentEmailStatus = "failed"
)

// SentEmail is the durable record of an outbound message. Sending is
// idempotent: a record already in "sent" is never delivered twice.
type SentEmail struct {
	ID               string          `gorm:"column:id;primaryKey"`
	ConnectionID     string          `gorm:"column:connection_id;index"`
	UserID           string          `gorm:"column:user_id;index"`
	ToRecipients     RecipientList   `gorm:"column:to_recipients;type:jsonb"`
	CcRecipients     RecipientList   `gorm:"column:cc_recipients;type:jsonb"`
	BccRecipients    RecipientList   `gorm:"column:bcc_recipients;type:jsonb"`
	ReplyTo          RecipientList   `gorm:"column:reply_to;type:jsonb"`
	Subject          string          `gorm:"column:subject"`
	Body             string          `gorm:"column:body"`
	BodyContentType  string          `gorm:"column:body_content_type"`
	Attachments      JSONBList       `gorm:"column:attachments;type:jsonb"`
	ReplyToMessageID *string         `gorm:"column:reply_to_message_id"`
	Importance       string          `gorm:"column:importance"`
	Status           SentEmailStatus `gorm:"column:status;index"`
	FailureReason    *string         `gorm:"column:failure_reason"`
	SentAt           *time.Time      `gorm:"column:sent_at"`
	ConversationID   *string         `gorm:"column:conversation_id"`
	ContactID        *string         `gorm:"column:contact_id"`
	EnquiryID        *string         `gorm:"column:enquiry_id"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SentEmail) TableName() string {
	return "sent_emails"
}
