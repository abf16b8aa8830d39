package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobType string

const (
	JobTypeProcessEmail      JobType = "process_email"
	JobTypeSendEmail         JobType = "send_email"
	JobTypeSyncFolder        JobType = "sync_folder"
	JobTypeRenewSubscription JobType = "renew_subscription"
	JobTypeProcessAI         JobType = "process_ai"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"    // Eligible for claiming once scheduled_for has passed
	JobStatusProcessing JobStatus = "processing" // Claimed by a worker
	JobStatusCompleted  JobStatus = "completed"  // Finished successfully
	JobStatusFailed     JobStatus = "failed"     // Transient failure, will be retried (transitions back to pending)
	JobStatusDead       JobStatus = "dead"       // Exhausted max attempts, needs manual retry
)

// Job is a durable unit of deferred work stored in the jobs table.
type Job struct {
	ID             string          `gorm:"column:id;primaryKey"`
	JobType        JobType         `gorm:"column:job_type;index"`
	Payload        json.RawMessage `gorm:"column:payload;type:jsonb"`
	Status         JobStatus       `gorm:"column:status;index"`
	Priority       int             `gorm:"column:priority"`
	ScheduledFor   time.Time       `gorm:"column:scheduled_for;index"`
	Attempts       int             `gorm:"column:attempts"`
	MaxAttempts    int             `gorm:"column:max_attempts"`
	IdempotencyKey *string         `gorm:"column:idempotency_key;uniqueIndex"`
	LastError      *string         `gorm:"column:last_error"`
	Result         json.RawMessage `gorm:"column:result;type:jsonb"`
	ConnectionID   *string         `gorm:"column:connection_id;index"`
	UserID         *string         `gorm:"column:user_id;index"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
	StartedAt      *time.Time      `gorm:"column:started_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at"`
}

// TableName specifies the table name for GORM
func (Job) TableName() string {
	return "jobs"
}

// ProcessEmailPayload is the payload for process_email jobs.
type ProcessEmailPayload struct {
	GraphMessageID string  `json:"graphMessageId"`
	ConnectionID   string  `json:"connectionId"`
	UserID         string  `json:"userId"`
	NotificationID *string `json:"notificationId,omitempty"`
}

// SendEmailPayload is the payload for send_email jobs.
type SendEmailPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	SentEmailID  string `json:"sentEmailId"`
}

// SyncFolderPayload is the payload for sync_folder jobs.
type SyncFolderPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	FolderID     string `json:"folderId"`
	FolderName   string `json:"folderName"`
}

// RenewSubscriptionPayload is the payload for renew_subscription jobs.
type RenewSubscriptionPayload struct {
	SubscriptionID string `json:"subscriptionId"`
	ConnectionID   string `json:"connectionId"`
}

// ProcessAIPayload is the payload for process_ai jobs.
type ProcessAIPayload struct {
	ProcessedEmailID string `json:"processedEmailId"`
	ConnectionID     string `json:"connectionId"`
	UserID           string `json:"userId"`
}

// DecodePayload unmarshals the raw payload into the variant matching the
// job type. The set of variants is closed; callers dispatch with a type
// switch and treat anything else as a permanent failure.
func (j *Job) DecodePayload() (interface{}, error) {
	switch j.JobType {
	case JobTypeProcessEmail:
		var p ProcessEmailPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode process_email payload: %w", err)
		}
		return p, nil
	case JobTypeSendEmail:
		var p SendEmailPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode send_email payload: %w", err)
		}
		return p, nil
	case JobTypeSyncFolder:
		var p SyncFolderPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode sync_folder payload: %w", err)
		}
		return p, nil
	case JobTypeRenewSubscription:
		var p RenewSubscriptionPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode renew_subscription payload: %w", err)
		}
		return p, nil
	case JobTypeProcessAI:
		var p ProcessAIPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode process_ai payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type: %s", j.JobType)
	}
}
