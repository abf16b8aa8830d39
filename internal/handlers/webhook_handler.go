package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/propstack/mail-worker/internal/metrics"
	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/repository"
)

// messageIDPattern extracts the message ID from a Graph resource path like
// "Users/{userId}/Messages/{messageId}".
var messageIDPattern = regexp.MustCompile(`(?i)messages/([^/]+)$`)

// changeTypePriority maps notification change types to job priorities. New
// mail is handled before updates, which are handled before deletions.
var changeTypePriority = map[string]int{
	"created": 10,
	"updated": 5,
	"deleted": 1,
}

// SubscriptionStore is the subscription lookup surface the webhook needs.
type SubscriptionStore interface {
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error)
	UpdateLastNotification(ctx context.Context, id string, at time.Time) error
}

// JobEnqueuer enqueues background jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts repository.EnqueueOptions) (*models.Job, error)
}

// WebhookHandler receives Microsoft Graph change notifications.
type WebhookHandler struct {
	subscriptions SubscriptionStore
	jobs          JobEnqueuer
}

func NewWebhookHandler(subscriptions SubscriptionStore, jobs JobEnqueuer) *WebhookHandler {
	return &WebhookHandler{
		subscriptions: subscriptions,
		jobs:          jobs,
	}
}

// graphNotification is one entry of a Graph change-notification batch.
type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

type notificationBatch struct {
	Value []graphNotification `json:"value"`
}

// BatchResult reports how a notification batch was handled.
type BatchResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// HandleNotification answers subscription validation handshakes and turns
// change notifications into process_email jobs. It always responds 202 to
// real notifications: the provider retries on non-2xx, and a notification we
// could not act on is not worth a redelivery storm.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	// Subscription validation handshake: echo the token back as plain text.
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, token)
		return
	}

	var batch notificationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid notification body", http.StatusBadRequest)
		return
	}

	result := BatchResult{}
	for _, notification := range batch.Value {
		if err := h.handleOne(r.Context(), notification); err != nil {
			log.Printf("Notification for subscription %s dropped: %v", notification.SubscriptionID, err)
			metrics.WebhookNotifications.WithLabelValues("rejected").Inc()
			result.Errors++
			continue
		}
		metrics.WebhookNotifications.WithLabelValues("processed").Inc()
		result.Processed++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("Warning: failed to write webhook response: %v", err)
	}
}

func (h *WebhookHandler) handleOne(ctx context.Context, notification graphNotification) error {
	sub, err := h.subscriptions.GetBySubscriptionID(ctx, notification.SubscriptionID)
	if err != nil {
		return fmt.Errorf("unknown subscription: %w", err)
	}

	// The clientState is a per-subscription secret. A mismatch means the
	// notification did not come from our registration.
	if notification.ClientState != sub.ClientState {
		return fmt.Errorf("clientState mismatch")
	}

	// A deactivated subscription can still receive late deliveries from the
	// provider until it expires there; they must not turn into jobs.
	if sub.Status != models.SubscriptionStatusActive {
		return fmt.Errorf("subscription is %s", sub.Status)
	}

	messageID := notification.ResourceData.ID
	if messageID == "" {
		if m := messageIDPattern.FindStringSubmatch(notification.Resource); m != nil {
			messageID = m[1]
		}
	}
	if messageID == "" {
		return fmt.Errorf("no message ID in notification (resource: %s)", notification.Resource)
	}

	priority, ok := changeTypePriority[notification.ChangeType]
	if !ok {
		return fmt.Errorf("unsupported changeType %q", notification.ChangeType)
	}

	_, err = h.jobs.Enqueue(ctx, models.JobTypeProcessEmail, models.ProcessEmailPayload{
		GraphMessageID: messageID,
		ConnectionID:   sub.ConnectionID,
		UserID:         sub.UserID,
	}, repository.EnqueueOptions{
		Priority: priority,
		IdempotencyKey: fmt.Sprintf("process_email:%s:%s:%s",
			sub.ConnectionID, messageID, notification.ChangeType),
		ConnectionID: sub.ConnectionID,
		UserID:       sub.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if err := h.subscriptions.UpdateLastNotification(ctx, sub.ID, time.Now()); err != nil {
		log.Printf("Warning: failed to stamp last notification on subscription %s: %v", sub.ID, err)
	}
	return nil
}
