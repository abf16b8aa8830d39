package models

import "time"

type ProcessingStatus string

const (
	ProcessingStatusProcessed ProcessingStatus = "processed"
	ProcessingStatusLinked    ProcessingStatus = "linked"
	ProcessingStatusAnalyzed  ProcessingStatus = "analyzed"
)

// ProcessedEmail is the durable record of an inbound message. The
// (connection_id, graph_message_id) pair is unique so that duplicate
// notification deliveries are idempotent.
type ProcessedEmail struct {
	ID                 string           `gorm:"column:id;primaryKey"`
	ConnectionID       string           `gorm:"column:connection_id;index:idx_processed_emails_msg,unique"`
	UserID             string           `gorm:"column:user_id;index"`
	GraphMessageID     string           `gorm:"column:graph_message_id;index:idx_processed_emails_msg,unique"`
	InternetMessageID  *string          `gorm:"column:internet_message_id"`
	FromAddress        string           `gorm:"column:from_address;index"`
	FromName           *string          `gorm:"column:from_name"`
	ToRecipients       RecipientList    `gorm:"column:to_recipients;type:jsonb"`
	CcRecipients       RecipientList    `gorm:"column:cc_recipients;type:jsonb"`
	Subject            *string          `gorm:"column:subject"`
	BodyPreview        *string          `gorm:"column:body_preview"`
	Body               *string          `gorm:"column:body"`
	BodyContentType    string           `gorm:"column:body_content_type"`
	ReceivedAt         *time.Time       `gorm:"column:received_at"`
	Importance         string           `gorm:"column:importance"`
	IsRead             bool             `gorm:"column:is_read"`
	IsDraft            bool             `gorm:"column:is_draft"`
	HasAttachments     bool             `gorm:"column:has_attachments"`
	Attachments        JSONBList        `gorm:"column:attachments;type:jsonb"`
	ProcessingStatus   ProcessingStatus `gorm:"column:processing_status"`
	AIProcessed        bool             `gorm:"column:ai_processed"`
	AICategory         *string          `gorm:"column:ai_category"`
	AISentiment        *string          `gorm:"column:ai_sentiment"`
	AIPriority         *string          `gorm:"column:ai_priority"`
	AISummary          *string          `gorm:"column:ai_summary"`
	AIEntities         JSONB            `gorm:"column:ai_entities;type:jsonb"`
	AISuggestedActions JSONBList        `gorm:"column:ai_suggested_actions;type:jsonb"`
	ConversationID     *string          `gorm:"column:conversation_id;index"`
	ContactID          *string          `gorm:"column:contact_id;index"`
	EnquiryID          *string          `gorm:"column:enquiry_id;index"`
	CreatedAt          time.Time        `gorm:"column:created_at"`
	UpdatedAt          time.Time        `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (ProcessedEmail) TableName() string {
	return "processed_emails"
}
