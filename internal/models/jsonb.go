package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONB type for GORM to handle PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// EmailRecipient is a display-name/address pair stored inside JSONB columns.
type EmailRecipient struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// RecipientList is a JSONB-backed slice of recipients.
type RecipientList []EmailRecipient

// Value implements driver.Valuer for RecipientList
func (l RecipientList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for RecipientList
func (l *RecipientList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// JSONBList is a JSONB-backed slice of loosely structured objects (attachment
// metadata, suggested actions).
type JSONBList []map[string]interface{}

// Value implements driver.Valuer for JSONBList
func (l JSONBList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONBList
func (l *JSONBList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}
