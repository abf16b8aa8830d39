package models

import "time"

// The CRM tables below are owned by the web application. The worker only
// reads them for linkage and bumps conversation activity timestamps.

// Conversation is an ongoing email thread with a contact.
type Conversation struct {
	ID            string     `gorm:"column:id;primaryKey"`
	UserID        string     `gorm:"column:user_id;index"`
	ContactID     *string    `gorm:"column:contact_id"`
	EmailAddress  string     `gorm:"column:email_address;index"`
	Subject       *string    `gorm:"column:subject"`
	LastMessageAt *time.Time `gorm:"column:last_message_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Conversation) TableName() string {
	return "conversations"
}

// Contact is a person known to the CRM.
type Contact struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	Email     string    `gorm:"column:email;index"`
	Name      *string   `gorm:"column:name"`
	Phone     *string   `gorm:"column:phone"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Contact) TableName() string {
	return "contacts"
}

// Enquiry is a property enquiry submitted through a listing page.
type Enquiry struct {
	ID          string    `gorm:"column:id;primaryKey"`
	UserID      string    `gorm:"column:user_id;index"`
	ContactID   *string   `gorm:"column:contact_id"`
	Email       string    `gorm:"column:email;index"`
	PropertyRef *string   `gorm:"column:property_ref"`
	Status      string    `gorm:"column:status"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Enquiry) TableName() string {
	return "enquiries"
}

// Lead is a prospective client captured by marketing.
type Lead struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	Email     string    `gorm:"column:email;index"`
	Name      *string   `gorm:"column:name"`
	Source    *string   `gorm:"column:source"`
	Status    string    `gorm:"column:status"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Lead) TableName() string {
	return "leads"
}
