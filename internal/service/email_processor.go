package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/propstack/mail-worker/internal/graph"
	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/openrouter"
	"github.com/propstack/mail-worker/internal/repository"
)

const (
	// syncPageSize is the Graph $top value for folder listings.
	syncPageSize = 50
	// maxSyncMessages bounds how many messages a single sync job enqueues.
	maxSyncMessages = 500
)

// GraphClient is the mailbox provider surface the services need.
type GraphClient interface {
	GetMessage(ctx context.Context, accessToken string, messageID string) (*graph.Message, error)
	ListFolderMessages(ctx context.Context, accessToken string, folderID string, pageSize int, nextLink string) (*graph.MessagePage, error)
	SendMail(ctx context.Context, accessToken string, req *graph.SendMailRequest) error
	CreateSubscription(ctx context.Context, accessToken string, notificationURL string, clientState string, expiresAt time.Time) (*graph.Subscription, error)
	RenewSubscription(ctx context.Context, accessToken string, subscriptionID string, expiresAt time.Time) (*graph.Subscription, error)
	DeleteSubscription(ctx context.Context, accessToken string, subscriptionID string) error
	RefreshAccessToken(ctx context.Context, refreshToken string) (*graph.TokenRefreshResult, error)
}

// ConnectionRepository manages email connection records.
type ConnectionRepository interface {
	GetByID(ctx context.Context, id string) (*models.EmailConnection, error)
	UpdateTokens(ctx context.Context, id string, accessToken string, refreshToken string, expiresAt time.Time) error
	RecordError(ctx context.Context, id string, message string) error
	ClearError(ctx context.Context, id string) error
}

// ProcessedEmailRepository manages inbound email records.
type ProcessedEmailRepository interface {
	Create(ctx context.Context, email *models.ProcessedEmail) error
	GetByID(ctx context.Context, id string) (*models.ProcessedEmail, error)
	GetByMessageID(ctx context.Context, connectionID string, graphMessageID string) (*models.ProcessedEmail, error)
	UpdateAIAnalysis(ctx context.Context, id string, updates map[string]interface{}) error
}

// CRMRepository looks up CRM entities by email address.
type CRMRepository interface {
	FindConversationByEmail(ctx context.Context, userID string, email string) (*models.Conversation, error)
	FindContactByEmail(ctx context.Context, userID string, email string) (*models.Contact, error)
	FindEnquiryByEmail(ctx context.Context, userID string, email string) (*models.Enquiry, error)
	FindLeadByEmail(ctx context.Context, userID string, email string) (*models.Lead, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// Analyzer produces a structured AI analysis of an email.
type Analyzer interface {
	AnalyzeEmail(ctx context.Context, email openrouter.EmailData) (*openrouter.EmailAnalysis, map[string]interface{}, error)
}

// JobQueue enqueues background jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts repository.EnqueueOptions) (*models.Job, error)
}

// EmailProcessor handles inbound emails: fetch, persist, CRM linking and
// AI analysis.
type EmailProcessor struct {
	connectionRepo ConnectionRepository
	processedRepo  ProcessedEmailRepository
	crmRepo        CRMRepository
	jobs           JobQueue
	graphClient    GraphClient
	analyzer       Analyzer // nil when AI analysis is not configured
}

func NewEmailProcessor(
	connectionRepo ConnectionRepository,
	processedRepo ProcessedEmailRepository,
	crmRepo CRMRepository,
	jobs JobQueue,
	graphClient GraphClient,
	analyzer Analyzer,
) *EmailProcessor {
	return &EmailProcessor{
		connectionRepo: connectionRepo,
		processedRepo:  processedRepo,
		crmRepo:        crmRepo,
		jobs:           jobs,
		graphClient:    graphClient,
		analyzer:       analyzer,
	}
}

// ProcessResult summarizes what happened to one inbound email.
type ProcessResult struct {
	ProcessedEmailID string  `json:"processedEmailId"`
	Duplicate        bool    `json:"duplicate,omitempty"`
	ConversationID   *string `json:"conversationId,omitempty"`
	ContactID        *string `json:"contactId,omitempty"`
	EnquiryID        *string `json:"enquiryId,omitempty"`
	AIProcessed      bool    `json:"aiProcessed"`
}

// ProcessEmail fetches a message from the provider, persists it, links it to
// CRM entities and runs AI analysis. Re-processing an already persisted
// message is a no-op success, so duplicate notification deliveries are safe.
func (p *EmailProcessor) ProcessEmail(ctx context.Context, graphMessageID string, connectionID string, userID string) (*ProcessResult, error) {
	existing, err := p.processedRepo.GetByMessageID(ctx, connectionID, graphMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing email: %w", err)
	}
	if existing != nil {
		log.Printf("Message %s already processed for connection %s, skipping", graphMessageID, connectionID)
		return &ProcessResult{
			ProcessedEmailID: existing.ID,
			Duplicate:        true,
			ConversationID:   existing.ConversationID,
			ContactID:        existing.ContactID,
			EnquiryID:        existing.EnquiryID,
			AIProcessed:      existing.AIProcessed,
		}, nil
	}

	result, err := p.processEmail(ctx, graphMessageID, connectionID, userID)
	if err != nil {
		if recErr := p.connectionRepo.RecordError(ctx, connectionID, err.Error()); recErr != nil {
			log.Printf("Warning: failed to record error on connection %s: %v", connectionID, recErr)
		}
		return nil, err
	}

	if clearErr := p.connectionRepo.ClearError(ctx, connectionID); clearErr != nil {
		log.Printf("Warning: failed to clear error on connection %s: %v", connectionID, clearErr)
	}
	return result, nil
}

func (p *EmailProcessor) processEmail(ctx context.Context, graphMessageID string, connectionID string, userID string) (*ProcessResult, error) {
	conn, err := p.connectionRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, fmt.Errorf("connection %s is not active (status: %s)", conn.ID, conn.Status)
	}

	accessToken, err := ensureAccessToken(ctx, conn, p.graphClient, p.connectionRepo)
	if err != nil {
		return nil, err
	}

	msg, err := p.graphClient.GetMessage(ctx, accessToken, graphMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", graphMessageID, err)
	}

	record := buildProcessedEmail(msg, connectionID, userID)
	p.linkCRM(ctx, record)

	if err := p.processedRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist email: %w", err)
	}

	aiProcessed := p.analyzeNewEmail(ctx, record)

	log.Printf("Processed email %s (message %s, connection %s)", record.ID, graphMessageID, connectionID)
	return &ProcessResult{
		ProcessedEmailID: record.ID,
		ConversationID:   record.ConversationID,
		ContactID:        record.ContactID,
		EnquiryID:        record.EnquiryID,
		AIProcessed:      aiProcessed,
	}, nil
}

// ProcessAI runs AI analysis on an already persisted email. Unlike the
// inline analysis during ProcessEmail, a failure here is the job's failure
// and gets retried.
func (p *EmailProcessor) ProcessAI(ctx context.Context, processedEmailID string) error {
	if p.analyzer == nil {
		return fmt.Errorf("AI analysis is not configured")
	}

	record, err := p.processedRepo.GetByID(ctx, processedEmailID)
	if err != nil {
		return fmt.Errorf("failed to get processed email: %w", err)
	}
	if record.AIProcessed {
		log.Printf("Email %s already analyzed, skipping", record.ID)
		return nil
	}

	body := bodyForAnalysis(record)
	if body == "" {
		log.Printf("Email %s has no analyzable body, skipping analysis", record.ID)
		return nil
	}

	analysis, _, err := p.analyzer.AnalyzeEmail(ctx, openrouter.EmailData{
		From:    record.FromAddress,
		Subject: derefString(record.Subject),
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("AI analysis failed: %w", err)
	}

	if err := p.processedRepo.UpdateAIAnalysis(ctx, record.ID, analysisUpdates(analysis)); err != nil {
		return fmt.Errorf("failed to store AI analysis: %w", err)
	}
	return nil
}

// SyncFolderResult reports how much work a folder sync queued up.
type SyncFolderResult struct {
	MessagesQueued int `json:"messagesQueued"`
}

// SyncFolder pages through a mail folder and enqueues a process_email job per
// message. The jobs carry deterministic idempotency keys, so re-running a
// sync never duplicates work.
func (p *EmailProcessor) SyncFolder(ctx context.Context, payload models.SyncFolderPayload) (*SyncFolderResult, error) {
	conn, err := p.connectionRepo.GetByID(ctx, payload.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, fmt.Errorf("connection %s is not active (status: %s)", conn.ID, conn.Status)
	}

	accessToken, err := ensureAccessToken(ctx, conn, p.graphClient, p.connectionRepo)
	if err != nil {
		return nil, err
	}

	queued := 0
	nextLink := ""
	for queued < maxSyncMessages {
		page, err := p.graphClient.ListFolderMessages(ctx, accessToken, payload.FolderID, syncPageSize, nextLink)
		if err != nil {
			return nil, fmt.Errorf("failed to list folder %s: %w", payload.FolderID, err)
		}

		for _, messageID := range page.MessageIDs {
			_, err := p.jobs.Enqueue(ctx, models.JobTypeProcessEmail, models.ProcessEmailPayload{
				GraphMessageID: messageID,
				ConnectionID:   payload.ConnectionID,
				UserID:         payload.UserID,
			}, repository.EnqueueOptions{
				IdempotencyKey: fmt.Sprintf("process_email:%s:%s:sync", payload.ConnectionID, messageID),
				ConnectionID:   payload.ConnectionID,
				UserID:         payload.UserID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to enqueue message %s: %w", messageID, err)
			}
			queued++
			if queued >= maxSyncMessages {
				break
			}
		}

		if page.NextLink == "" {
			break
		}
		nextLink = page.NextLink
	}

	log.Printf("Folder sync for connection %s queued %d messages", payload.ConnectionID, queued)
	return &SyncFolderResult{MessagesQueued: queued}, nil
}

// linkCRM matches the sender address against conversations, enquiries and
// leads, in that order. Lookup failures are logged and skipped; a broken CRM
// lookup must not block email persistence.
func (p *EmailProcessor) linkCRM(ctx context.Context, record *models.ProcessedEmail) {
	sender := record.FromAddress
	if sender == "" {
		return
	}

	conv, err := p.crmRepo.FindConversationByEmail(ctx, record.UserID, sender)
	if err != nil {
		log.Printf("Warning: conversation lookup failed for %s: %v", sender, err)
	} else if conv != nil {
		record.ConversationID = &conv.ID
		record.ContactID = conv.ContactID
		touchAt := record.CreatedAt
		if record.ReceivedAt != nil {
			touchAt = *record.ReceivedAt
		}
		if err := p.crmRepo.TouchConversation(ctx, conv.ID, touchAt); err != nil {
			log.Printf("Warning: failed to touch conversation %s: %v", conv.ID, err)
		}
	}

	if record.ConversationID == nil {
		enquiry, err := p.crmRepo.FindEnquiryByEmail(ctx, record.UserID, sender)
		if err != nil {
			log.Printf("Warning: enquiry lookup failed for %s: %v", sender, err)
		} else if enquiry != nil {
			record.EnquiryID = &enquiry.ID
			record.ContactID = enquiry.ContactID
		}
	}

	if record.ConversationID == nil && record.EnquiryID == nil {
		lead, err := p.crmRepo.FindLeadByEmail(ctx, record.UserID, sender)
		if err != nil {
			log.Printf("Warning: lead lookup failed for %s: %v", sender, err)
		} else if lead != nil {
			log.Printf("Email from %s matches lead %s", sender, lead.ID)
		}
	}

	if record.ContactID == nil {
		contact, err := p.crmRepo.FindContactByEmail(ctx, record.UserID, sender)
		if err != nil {
			log.Printf("Warning: contact lookup failed for %s: %v", sender, err)
		} else if contact != nil {
			record.ContactID = &contact.ID
		}
	}

	if record.ConversationID != nil || record.ContactID != nil || record.EnquiryID != nil {
		record.ProcessingStatus = models.ProcessingStatusLinked
	}
}

// analyzeNewEmail runs AI analysis inline after persisting a new email.
// Failures are swallowed: the email is already stored and a process_ai job
// can redo the analysis later.
func (p *EmailProcessor) analyzeNewEmail(ctx context.Context, record *models.ProcessedEmail) bool {
	if p.analyzer == nil {
		return false
	}
	body := bodyForAnalysis(record)
	if body == "" {
		return false
	}

	analysis, _, err := p.analyzer.AnalyzeEmail(ctx, openrouter.EmailData{
		From:    record.FromAddress,
		Subject: derefString(record.Subject),
		Body:    body,
	})
	if err != nil {
		log.Printf("Warning: AI analysis failed for email %s: %v", record.ID, err)
		return false
	}

	if err := p.processedRepo.UpdateAIAnalysis(ctx, record.ID, analysisUpdates(analysis)); err != nil {
		log.Printf("Warning: failed to store AI analysis for email %s: %v", record.ID, err)
		return false
	}
	return true
}

func buildProcessedEmail(msg *graph.Message, connectionID string, userID string) *models.ProcessedEmail {
	now := time.Now()

	record := &models.ProcessedEmail{
		ID:               uuid.New().String(),
		ConnectionID:     connectionID,
		UserID:           userID,
		GraphMessageID:   msg.ID,
		FromAddress:      msg.From.Address,
		ToRecipients:     toRecipientList(msg.ToRecipients),
		CcRecipients:     toRecipientList(msg.CcRecipients),
		BodyContentType:  msg.BodyContentType,
		Importance:       msg.Importance,
		IsRead:           msg.IsRead,
		IsDraft:          msg.IsDraft,
		HasAttachments:   msg.HasAttachments,
		ProcessingStatus: models.ProcessingStatusProcessed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if msg.InternetMessageID != "" {
		record.InternetMessageID = &msg.InternetMessageID
	}
	if msg.From.Name != "" {
		record.FromName = &msg.From.Name
	}
	if msg.Subject != "" {
		record.Subject = &msg.Subject
	}
	if msg.BodyPreview != "" {
		record.BodyPreview = &msg.BodyPreview
	}
	if msg.BodyContent != "" {
		record.Body = &msg.BodyContent
	}
	if !msg.ReceivedAt.IsZero() {
		received := msg.ReceivedAt
		record.ReceivedAt = &received
	}
	if len(msg.Attachments) > 0 {
		attachments := make(models.JSONBList, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			attachments = append(attachments, map[string]interface{}{
				"name":        a.Name,
				"contentType": a.ContentType,
				"size":        a.Size,
				"isInline":    a.IsInline,
			})
		}
		record.Attachments = attachments
	}
	return record
}

func toRecipientList(recipients []graph.Recipient) models.RecipientList {
	if len(recipients) == 0 {
		return nil
	}
	out := make(models.RecipientList, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, models.EmailRecipient{Name: r.Name, Address: r.Address})
	}
	return out
}

// bodyForAnalysis prefers the full body and falls back to the preview.
func bodyForAnalysis(record *models.ProcessedEmail) string {
	if record.Body != nil && *record.Body != "" {
		return *record.Body
	}
	if record.BodyPreview != nil {
		return *record.BodyPreview
	}
	return ""
}

func analysisUpdates(analysis *openrouter.EmailAnalysis) map[string]interface{} {
	updates := map[string]interface{}{
		"ai_category":  analysis.Category,
		"ai_sentiment": analysis.Sentiment,
		"ai_priority":  analysis.Priority,
		"ai_summary":   analysis.Summary,
		"ai_entities":  toJSONB(analysis.Entities),
	}
	if len(analysis.SuggestedActions) > 0 {
		updates["ai_suggested_actions"] = toJSONBList(analysis.SuggestedActions)
	}
	return updates
}

func toJSONB(v interface{}) models.JSONB {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out models.JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func toJSONBList(v interface{}) models.JSONBList {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out models.JSONBList
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
