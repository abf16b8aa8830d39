package service

import (
	"context"
	"time"

	"github.com/propstack/mail-worker/internal/graph"
	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/openrouter"
	"github.com/propstack/mail-worker/internal/repository"
)

type mockGraphClient struct {
	getMessageFunc         func(ctx context.Context, accessToken string, messageID string) (*graph.Message, error)
	listFolderMessagesFunc func(ctx context.Context, accessToken string, folderID string, pageSize int, nextLink string) (*graph.MessagePage, error)
	sendMailFunc           func(ctx context.Context, accessToken string, req *graph.SendMailRequest) error
	createSubFunc          func(ctx context.Context, accessToken string, notificationURL string, clientState string, expiresAt time.Time) (*graph.Subscription, error)
	renewSubFunc           func(ctx context.Context, accessToken string, subscriptionID string, expiresAt time.Time) (*graph.Subscription, error)
	deleteSubFunc          func(ctx context.Context, accessToken string, subscriptionID string) error
	refreshTokenFunc       func(ctx context.Context, refreshToken string) (*graph.TokenRefreshResult, error)
}

func (m *mockGraphClient) GetMessage(ctx context.Context, accessToken string, messageID string) (*graph.Message, error) {
	return m.getMessageFunc(ctx, accessToken, messageID)
}

func (m *mockGraphClient) ListFolderMessages(ctx context.Context, accessToken string, folderID string, pageSize int, nextLink string) (*graph.MessagePage, error) {
	return m.listFolderMessagesFunc(ctx, accessToken, folderID, pageSize, nextLink)
}

func (m *mockGraphClient) SendMail(ctx context.Context, accessToken string, req *graph.SendMailRequest) error {
	return m.sendMailFunc(ctx, accessToken, req)
}

func (m *mockGraphClient) CreateSubscription(ctx context.Context, accessToken string, notificationURL string, clientState string, expiresAt time.Time) (*graph.Subscription, error) {
	return m.createSubFunc(ctx, accessToken, notificationURL, clientState, expiresAt)
}

func (m *mockGraphClient) RenewSubscription(ctx context.Context, accessToken string, subscriptionID string, expiresAt time.Time) (*graph.Subscription, error) {
	return m.renewSubFunc(ctx, accessToken, subscriptionID, expiresAt)
}

func (m *mockGraphClient) DeleteSubscription(ctx context.Context, accessToken string, subscriptionID string) error {
	return m.deleteSubFunc(ctx, accessToken, subscriptionID)
}

func (m *mockGraphClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*graph.TokenRefreshResult, error) {
	return m.refreshTokenFunc(ctx, refreshToken)
}

type mockConnectionRepo struct {
	getByIDFunc      func(ctx context.Context, id string) (*models.EmailConnection, error)
	updateTokensFunc func(ctx context.Context, id string, accessToken string, refreshToken string, expiresAt time.Time) error
	recordedErrors   []string
	clearedErrors    []string
}

func (m *mockConnectionRepo) GetByID(ctx context.Context, id string) (*models.EmailConnection, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockConnectionRepo) UpdateTokens(ctx context.Context, id string, accessToken string, refreshToken string, expiresAt time.Time) error {
	if m.updateTokensFunc != nil {
		return m.updateTokensFunc(ctx, id, accessToken, refreshToken, expiresAt)
	}
	return nil
}

func (m *mockConnectionRepo) RecordError(ctx context.Context, id string, message string) error {
	m.recordedErrors = append(m.recordedErrors, message)
	return nil
}

func (m *mockConnectionRepo) ClearError(ctx context.Context, id string) error {
	m.clearedErrors = append(m.clearedErrors, id)
	return nil
}

type mockProcessedRepo struct {
	createFunc           func(ctx context.Context, email *models.ProcessedEmail) error
	getByIDFunc          func(ctx context.Context, id string) (*models.ProcessedEmail, error)
	getByMessageIDFunc   func(ctx context.Context, connectionID string, graphMessageID string) (*models.ProcessedEmail, error)
	updateAIAnalysisFunc func(ctx context.Context, id string, updates map[string]interface{}) error
}

func (m *mockProcessedRepo) Create(ctx context.Context, email *models.ProcessedEmail) error {
	return m.createFunc(ctx, email)
}

func (m *mockProcessedRepo) GetByID(ctx context.Context, id string) (*models.ProcessedEmail, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockProcessedRepo) GetByMessageID(ctx context.Context, connectionID string, graphMessageID string) (*models.ProcessedEmail, error) {
	return m.getByMessageIDFunc(ctx, connectionID, graphMessageID)
}

func (m *mockProcessedRepo) UpdateAIAnalysis(ctx context.Context, id string, updates map[string]interface{}) error {
	if m.updateAIAnalysisFunc != nil {
		return m.updateAIAnalysisFunc(ctx, id, updates)
	}
	return nil
}

type mockCRMRepo struct {
	conversation *models.Conversation
	contact      *models.Contact
	enquiry      *models.Enquiry
	lead         *models.Lead
	touched      []string
}

func (m *mockCRMRepo) FindConversationByEmail(ctx context.Context, userID string, email string) (*models.Conversation, error) {
	return m.conversation, nil
}

func (m *mockCRMRepo) FindContactByEmail(ctx context.Context, userID string, email string) (*models.Contact, error) {
	return m.contact, nil
}

func (m *mockCRMRepo) FindEnquiryByEmail(ctx context.Context, userID string, email string) (*models.Enquiry, error) {
	return m.enquiry, nil
}

func (m *mockCRMRepo) FindLeadByEmail(ctx context.Context, userID string, email string) (*models.Lead, error) {
	return m.lead, nil
}

func (m *mockCRMRepo) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.touched = append(m.touched, id)
	return nil
}

type mockAnalyzer struct {
	analyzeFunc func(ctx context.Context, email openrouter.EmailData) (*openrouter.EmailAnalysis, map[string]interface{}, error)
}

func (m *mockAnalyzer) AnalyzeEmail(ctx context.Context, email openrouter.EmailData) (*openrouter.EmailAnalysis, map[string]interface{}, error) {
	return m.analyzeFunc(ctx, email)
}

type mockJobQueue struct {
	enqueueFunc func(ctx context.Context, jobType models.JobType, payload interface{}, opts repository.EnqueueOptions) (*models.Job, error)
	jobTypes    []models.JobType
	options     []repository.EnqueueOptions
}

func (m *mockJobQueue) Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts repository.EnqueueOptions) (*models.Job, error) {
	m.jobTypes = append(m.jobTypes, jobType)
	m.options = append(m.options, opts)
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, jobType, payload, opts)
	}
	return &models.Job{ID: "job-1", JobType: jobType}, nil
}

type mockSentRepo struct {
	createFunc   func(ctx context.Context, email *models.SentEmail) error
	getByIDFunc  func(ctx context.Context, id string) (*models.SentEmail, error)
	statusEvents []models.SentEmailStatus
	lastReason   *string
}

func (m *mockSentRepo) Create(ctx context.Context, email *models.SentEmail) error {
	return m.createFunc(ctx, email)
}

func (m *mockSentRepo) GetByID(ctx context.Context, id string) (*models.SentEmail, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockSentRepo) UpdateStatus(ctx context.Context, id string, status models.SentEmailStatus, failureReason *string) error {
	m.statusEvents = append(m.statusEvents, status)
	m.lastReason = failureReason
	return nil
}

type mockSubscriptionRepo struct {
	createFunc        func(ctx context.Context, sub *models.WebhookSubscription) error
	getBySubIDFunc    func(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error)
	updatedExpiration *time.Time
	deactivated       []string
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, sub)
	}
	return nil
}

func (m *mockSubscriptionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error) {
	return m.getBySubIDFunc(ctx, subscriptionID)
}

func (m *mockSubscriptionRepo) UpdateExpiration(ctx context.Context, id string, expiresAt time.Time) error {
	m.updatedExpiration = &expiresAt
	return nil
}

func (m *mockSubscriptionRepo) Deactivate(ctx context.Context, id string) error {
	m.deactivated = append(m.deactivated, id)
	return nil
}

func activeConnection() *models.EmailConnection {
	accessToken := "access-token"
	refreshToken := "refresh-token"
	expiresAt := time.Now().Add(time.Hour)
	return &models.EmailConnection{
		ID:             "conn-1",
		UserID:         "user-1",
		EmailAddress:   "agent@propstack.example",
		AccessToken:    &accessToken,
		RefreshToken:   &refreshToken,
		TokenExpiresAt: &expiresAt,
		Status:         models.ConnectionStatusActive,
	}
}
