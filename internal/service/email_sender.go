package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/propstack/mail-worker/internal/graph"
	"github.com/propstack/mail-worker/internal/metrics"
	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/repository"
)

// SentEmailRepository manages outbound email records.
type SentEmailRepository interface {
	Create(ctx context.Context, email *models.SentEmail) error
	GetByID(ctx context.Context, id string) (*models.SentEmail, error)
	UpdateStatus(ctx context.Context, id string, status models.SentEmailStatus, failureReason *string) error
}

// EmailSender queues and delivers outbound emails.
type EmailSender struct {
	connectionRepo ConnectionRepository
	sentRepo       SentEmailRepository
	jobs           JobQueue
	graphClient    GraphClient
}

func NewEmailSender(
	connectionRepo ConnectionRepository,
	sentRepo SentEmailRepository,
	jobs JobQueue,
	graphClient GraphClient,
) *EmailSender {
	return &EmailSender{
		connectionRepo: connectionRepo,
		sentRepo:       sentRepo,
		jobs:           jobs,
		graphClient:    graphClient,
	}
}

// OutgoingEmail is a request to send an email through a connection.
type OutgoingEmail struct {
	ConnectionID     string               `json:"connectionId"`
	UserID           string               `json:"userId"`
	To               models.RecipientList `json:"to"`
	Cc               models.RecipientList `json:"cc,omitempty"`
	Bcc              models.RecipientList `json:"bcc,omitempty"`
	ReplyTo          models.RecipientList `json:"replyTo,omitempty"`
	Subject          string               `json:"subject"`
	Body             string               `json:"body"`
	BodyContentType  string               `json:"bodyContentType,omitempty"`
	Importance       string               `json:"importance,omitempty"`
	Attachments      models.JSONBList     `json:"attachments,omitempty"`
	ReplyToMessageID *string              `json:"replyToMessageId,omitempty"`
	ConversationID   *string              `json:"conversationId,omitempty"`
	ContactID        *string              `json:"contactId,omitempty"`
	EnquiryID        *string              `json:"enquiryId,omitempty"`
}

// QueueEmail persists an outbound email record and enqueues a send_email job
// for it. Delivery happens asynchronously in the worker.
func (s *EmailSender) QueueEmail(ctx context.Context, req *OutgoingEmail) (string, error) {
	if len(req.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	conn, err := s.connectionRepo.GetByID(ctx, req.ConnectionID)
	if err != nil {
		return "", fmt.Errorf("failed to get connection: %w", err)
	}
	if conn.Status != models.ConnectionStatusActive {
		return "", fmt.Errorf("connection %s is not active (status: %s)", conn.ID, conn.Status)
	}

	now := time.Now()
	record := &models.SentEmail{
		ID:               uuid.New().String(),
		ConnectionID:     req.ConnectionID,
		UserID:           req.UserID,
		ToRecipients:     req.To,
		CcRecipients:     req.Cc,
		BccRecipients:    req.Bcc,
		ReplyTo:          req.ReplyTo,
		Subject:          req.Subject,
		Body:             req.Body,
		BodyContentType:  req.BodyContentType,
		Attachments:      req.Attachments,
		ReplyToMessageID: req.ReplyToMessageID,
		Importance:       req.Importance,
		Status:           models.SentStatusQueued,
		ConversationID:   req.ConversationID,
		ContactID:        req.ContactID,
		EnquiryID:        req.EnquiryID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sentRepo.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist outbound email: %w", err)
	}

	_, err = s.jobs.Enqueue(ctx, models.JobTypeSendEmail, models.SendEmailPayload{
		SentEmailID:  record.ID,
		ConnectionID: req.ConnectionID,
		UserID:       req.UserID,
	}, repository.EnqueueOptions{
		IdempotencyKey: "send_email:" + record.ID,
		ConnectionID:   req.ConnectionID,
		UserID:         req.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue send job: %w", err)
	}

	log.Printf("Queued outbound email %s for connection %s", record.ID, req.ConnectionID)
	return record.ID, nil
}

// SendQueuedEmail delivers a previously queued email. Records already in
// "sent" are skipped, so a retried or duplicated job never sends twice.
func (s *EmailSender) SendQueuedEmail(ctx context.Context, sentEmailID string) error {
	record, err := s.sentRepo.GetByID(ctx, sentEmailID)
	if err != nil {
		return fmt.Errorf("failed to get outbound email: %w", err)
	}
	if record.Status == models.SentStatusSent {
		log.Printf("Email %s already sent, skipping", record.ID)
		return nil
	}

	if err := s.sentRepo.UpdateStatus(ctx, record.ID, models.SentStatusSending, nil); err != nil {
		return fmt.Errorf("failed to mark email as sending: %w", err)
	}

	if err := s.deliver(ctx, record); err != nil {
		reason := err.Error()
		if uerr := s.sentRepo.UpdateStatus(ctx, record.ID, models.SentStatusFailed, &reason); uerr != nil {
			log.Printf("Warning: failed to mark email %s as failed: %v", record.ID, uerr)
		}
		if recErr := s.connectionRepo.RecordError(ctx, record.ConnectionID, reason); recErr != nil {
			log.Printf("Warning: failed to record error on connection %s: %v", record.ConnectionID, recErr)
		}
		return err
	}

	if err := s.sentRepo.UpdateStatus(ctx, record.ID, models.SentStatusSent, nil); err != nil {
		return fmt.Errorf("failed to mark email as sent: %w", err)
	}
	if clearErr := s.connectionRepo.ClearError(ctx, record.ConnectionID); clearErr != nil {
		log.Printf("Warning: failed to clear error on connection %s: %v", record.ConnectionID, clearErr)
	}

	metrics.EmailsSent.Inc()
	log.Printf("Sent email %s through connection %s", record.ID, record.ConnectionID)
	return nil
}

// SendImmediate queues an email and delivers it right away, bypassing the
// worker poll interval. The queued job still exists as a safety net: if the
// inline send fails, the worker retries it with backoff.
func (s *EmailSender) SendImmediate(ctx context.Context, req *OutgoingEmail) (string, error) {
	sentEmailID, err := s.QueueEmail(ctx, req)
	if err != nil {
		return "", err
	}
	if err := s.SendQueuedEmail(ctx, sentEmailID); err != nil {
		log.Printf("Immediate send of %s failed, leaving retry to the worker: %v", sentEmailID, err)
	}
	return sentEmailID, nil
}

// RetryFailedEmail re-queues a failed email. The new job carries no
// idempotency key: the original key belongs to the spent job and would
// swallow the retry.
func (s *EmailSender) RetryFailedEmail(ctx context.Context, sentEmailID string, userID string) error {
	record, err := s.sentRepo.GetByID(ctx, sentEmailID)
	if err != nil {
		return fmt.Errorf("failed to get outbound email: %w", err)
	}
	if record.UserID != userID {
		return fmt.Errorf("email %s does not belong to user %s", sentEmailID, userID)
	}
	if record.Status != models.SentStatusFailed {
		return fmt.Errorf("only failed emails can be retried (status: %s)", record.Status)
	}

	if err := s.sentRepo.UpdateStatus(ctx, record.ID, models.SentStatusQueued, nil); err != nil {
		return fmt.Errorf("failed to re-queue email: %w", err)
	}

	_, err = s.jobs.Enqueue(ctx, models.JobTypeSendEmail, models.SendEmailPayload{
		SentEmailID:  record.ID,
		ConnectionID: record.ConnectionID,
		UserID:       record.UserID,
	}, repository.EnqueueOptions{
		ConnectionID: record.ConnectionID,
		UserID:       record.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue retry job: %w", err)
	}

	log.Printf("Re-queued failed email %s", record.ID)
	return nil
}

func (s *EmailSender) deliver(ctx context.Context, record *models.SentEmail) error {
	conn, err := s.connectionRepo.GetByID(ctx, record.ConnectionID)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	if conn.Status != models.ConnectionStatusActive {
		return fmt.Errorf("connection %s is not active (status: %s)", conn.ID, conn.Status)
	}

	accessToken, err := ensureAccessToken(ctx, conn, s.graphClient, s.connectionRepo)
	if err != nil {
		return err
	}

	req := &graph.SendMailRequest{
		Subject:         record.Subject,
		Body:            record.Body,
		BodyContentType: record.BodyContentType,
		To:              toGraphRecipients(record.ToRecipients),
		Cc:              toGraphRecipients(record.CcRecipients),
		Bcc:             toGraphRecipients(record.BccRecipients),
		ReplyTo:         toGraphRecipients(record.ReplyTo),
		Importance:      record.Importance,
		Attachments:     toGraphAttachments(record.Attachments),
	}

	if err := s.graphClient.SendMail(ctx, accessToken, req); err != nil {
		return fmt.Errorf("provider rejected send: %w", err)
	}
	return nil
}

func toGraphRecipients(recipients models.RecipientList) []graph.Recipient {
	if len(recipients) == 0 {
		return nil
	}
	out := make([]graph.Recipient, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, graph.Recipient{Name: r.Name, Address: r.Address})
	}
	return out
}

func toGraphAttachments(attachments models.JSONBList) []graph.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]graph.Attachment, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, graph.Attachment{
			Name:         stringField(a, "name"),
			ContentType:  stringField(a, "contentType"),
			ContentBytes: stringField(a, "contentBytes"),
			IsInline:     boolField(a, "isInline"),
		})
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
