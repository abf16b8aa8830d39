package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/repository"
)

type mockSubscriptionStore struct {
	getBySubscriptionIDFunc    func(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error)
	updateLastNotificationFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *mockSubscriptionStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error) {
	return m.getBySubscriptionIDFunc(ctx, subscriptionID)
}

func (m *mockSubscriptionStore) UpdateLastNotification(ctx context.Context, id string, at time.Time) error {
	if m.updateLastNotificationFunc != nil {
		return m.updateLastNotificationFunc(ctx, id, at)
	}
	return nil
}

type mockEnqueuer struct {
	enqueueFunc func(ctx context.Context, jobType models.JobType, payload interface{}, opts repository.EnqueueOptions) (*models.Job, error)
	calls       []repository.EnqueueOptions
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts repository.EnqueueOptions) (*models.Job, error) {
	m.calls = append(m.calls, opts)
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, jobType, payload, opts)
	}
	return &models.Job{ID: "job-1", JobType: jobType}, nil
}

func activeSubscription() *models.WebhookSubscription {
	return &models.WebhookSubscription{
		ID:             "sub-row-1",
		SubscriptionID: "graph-sub-1",
		ConnectionID:   "conn-1",
		UserID:         "user-1",
		ClientState:    "secret-state",
		Status:         models.SubscriptionStatusActive,
	}
}

func notificationBody(clientState, changeType, messageID string) string {
	return fmt.Sprintf(`{
		"value": [{
			"subscriptionId": "graph-sub-1",
			"clientState": %q,
			"changeType": %q,
			"resource": "Users/user-1/Messages/%s",
			"resourceData": {"id": %q}
		}]
	}`, clientState, changeType, messageID, messageID)
}

func TestHandleNotification_ValidationHandshake(t *testing.T) {
	handler := NewWebhookHandler(&mockSubscriptionStore{}, &mockEnqueuer{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph?validationToken=abc%20123", nil)
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "abc 123" {
		t.Errorf("expected token echoed back, got %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("expected text/plain, got %q", ct)
	}
}

func TestHandleNotification_EnqueuesJob(t *testing.T) {
	store := &mockSubscriptionStore{
		getBySubscriptionIDFunc: func(_ context.Context, subscriptionID string) (*models.WebhookSubscription, error) {
			if subscriptionID != "graph-sub-1" {
				t.Errorf("unexpected subscription lookup: %s", subscriptionID)
			}
			return activeSubscription(), nil
		},
	}
	queue := &mockEnqueuer{}
	handler := NewWebhookHandler(store, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph",
		strings.NewReader(notificationBody("secret-state", "created", "msg-1")))
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var result BatchResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Processed != 1 || result.Errors != 0 {
		t.Errorf("expected 1 processed / 0 errors, got %+v", result)
	}

	if len(queue.calls) != 1 {
		t.Fatalf("expected 1 enqueue call, got %d", len(queue.calls))
	}
	opts := queue.calls[0]
	if opts.IdempotencyKey != "process_email:conn-1:msg-1:created" {
		t.Errorf("unexpected idempotency key: %s", opts.IdempotencyKey)
	}
	if opts.Priority != 10 {
		t.Errorf("expected priority 10 for created, got %d", opts.Priority)
	}
}

func TestHandleNotification_ClientStateMismatch(t *testing.T) {
	store := &mockSubscriptionStore{
		getBySubscriptionIDFunc: func(_ context.Context, _ string) (*models.WebhookSubscription, error) {
			return activeSubscription(), nil
		},
	}
	queue := &mockEnqueuer{}
	handler := NewWebhookHandler(store, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph",
		strings.NewReader(notificationBody("wrong-state", "created", "msg-1")))
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	// Spoofed notifications are counted as errors but still get a 202 so the
	// provider does not hammer the endpoint with redeliveries.
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var result BatchResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Errors != 1 || result.Processed != 0 {
		t.Errorf("expected 0 processed / 1 error, got %+v", result)
	}
	if len(queue.calls) != 0 {
		t.Errorf("expected no enqueue for spoofed notification, got %d", len(queue.calls))
	}
}

func TestHandleNotification_InactiveSubscription(t *testing.T) {
	sub := activeSubscription()
	sub.Status = models.SubscriptionStatusInactive
	store := &mockSubscriptionStore{
		getBySubscriptionIDFunc: func(_ context.Context, _ string) (*models.WebhookSubscription, error) {
			return sub, nil
		},
	}
	queue := &mockEnqueuer{}
	handler := NewWebhookHandler(store, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph",
		strings.NewReader(notificationBody("secret-state", "created", "msg-1")))
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var result BatchResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Errors != 1 || result.Processed != 0 {
		t.Errorf("expected 0 processed / 1 error, got %+v", result)
	}
	if len(queue.calls) != 0 {
		t.Errorf("expected no enqueue for an inactive subscription, got %d", len(queue.calls))
	}
}

func TestHandleNotification_UnknownSubscription(t *testing.T) {
	store := &mockSubscriptionStore{
		getBySubscriptionIDFunc: func(_ context.Context, _ string) (*models.WebhookSubscription, error) {
			return nil, repository.ErrSubscriptionNotFound
		},
	}
	queue := &mockEnqueuer{}
	handler := NewWebhookHandler(store, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph",
		strings.NewReader(notificationBody("secret-state", "created", "msg-1")))
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(queue.calls) != 0 {
		t.Errorf("expected no enqueue for unknown subscription")
	}
}

func TestHandleNotification_ChangeTypePriorities(t *testing.T) {
	tests := []struct {
		changeType string
		priority   int
	}{
		{changeType: "created", priority: 10},
		{changeType: "updated", priority: 5},
		{changeType: "deleted", priority: 1},
	}

	for _, tt := range tests {
		store := &mockSubscriptionStore{
			getBySubscriptionIDFunc: func(_ context.Context, _ string) (*models.WebhookSubscription, error) {
				return activeSubscription(), nil
			},
		}
		queue := &mockEnqueuer{}
		handler := NewWebhookHandler(store, queue)

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph",
			strings.NewReader(notificationBody("secret-state", tt.changeType, "msg-1")))
		rec := httptest.NewRecorder()
		handler.HandleNotification(rec, req)

		if len(queue.calls) != 1 {
			t.Fatalf("%s: expected 1 enqueue call, got %d", tt.changeType, len(queue.calls))
		}
		if queue.calls[0].Priority != tt.priority {
			t.Errorf("%s: expected priority %d, got %d", tt.changeType, tt.priority, queue.calls[0].Priority)
		}
	}
}

func TestHandleNotification_MessageIDFromResourcePath(t *testing.T) {
	store := &mockSubscriptionStore{
		getBySubscriptionIDFunc: func(_ context.Context, _ string) (*models.WebhookSubscription, error) {
			return activeSubscription(), nil
		},
	}
	queue := &mockEnqueuer{}
	handler := NewWebhookHandler(store, queue)

	// No resourceData.id, only the resource path.
	body := `{
		"value": [{
			"subscriptionId": "graph-sub-1",
			"clientState": "secret-state",
			"changeType": "created",
			"resource": "Users/user-1/Messages/msg-from-path"
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	if len(queue.calls) != 1 {
		t.Fatalf("expected 1 enqueue call, got %d", len(queue.calls))
	}
	if key := queue.calls[0].IdempotencyKey; key != "process_email:conn-1:msg-from-path:created" {
		t.Errorf("unexpected idempotency key: %s", key)
	}
}

func TestHandleNotification_InvalidBody(t *testing.T) {
	handler := NewWebhookHandler(&mockSubscriptionStore{}, &mockEnqueuer{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/graph", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	handler.HandleNotification(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
