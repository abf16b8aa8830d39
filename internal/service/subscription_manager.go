package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/propstack/mail-worker/internal/models"
	"github.com/propstack/mail-worker/internal/repository"
)

const (
	// subscriptionTTL is how long each (re)registration lasts. Graph caps
	// mailbox subscriptions at roughly three days.
	subscriptionTTL = 48 * time.Hour
	// renewalLead is how long before expiry the renewal job runs.
	renewalLead = 6 * time.Hour
)

// SubscriptionRepository manages webhook subscription records.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.WebhookSubscription) error
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error)
	UpdateExpiration(ctx context.Context, id string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id string) error
}

// SubscriptionManager keeps Graph change-notification subscriptions alive.
type SubscriptionManager struct {
	subscriptionRepo SubscriptionRepository
	connectionRepo   ConnectionRepository
	jobs             JobQueue
	graphClient      GraphClient
}

func NewSubscriptionManager(
	subscriptionRepo SubscriptionRepository,
	connectionRepo ConnectionRepository,
	jobs JobQueue,
	graphClient GraphClient,
) *SubscriptionManager {
	return &SubscriptionManager{
		subscriptionRepo: subscriptionRepo,
		connectionRepo:   connectionRepo,
		jobs:             jobs,
		graphClient:      graphClient,
	}
}

// Create registers a new subscription with the provider and schedules its
// first renewal. The clientState secret is generated here and never leaves
// the database except inside provider notifications.
func (m *SubscriptionManager) Create(ctx context.Context, connectionID string, notificationURL string) (*models.WebhookSubscription, error) {
	conn, err := m.connectionRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, fmt.Errorf("connection %s is not active (status: %s)", conn.ID, conn.Status)
	}

	accessToken, err := ensureAccessToken(ctx, conn, m.graphClient, m.connectionRepo)
	if err != nil {
		return nil, err
	}

	clientState := uuid.New().String()
	created, err := m.graphClient.CreateSubscription(ctx, accessToken, notificationURL, clientState, time.Now().Add(subscriptionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	now := time.Now()
	sub := &models.WebhookSubscription{
		ID:             uuid.New().String(),
		SubscriptionID: created.ID,
		ConnectionID:   connectionID,
		UserID:         conn.UserID,
		ClientState:    clientState,
		Status:         models.SubscriptionStatusActive,
		ExpiresAt:      created.ExpirationDateTime,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.subscriptionRepo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}

	if err := m.scheduleRenewal(ctx, sub.SubscriptionID, connectionID, created.ExpirationDateTime); err != nil {
		log.Printf("Warning: failed to schedule renewal for subscription %s: %v", sub.SubscriptionID, err)
	}

	log.Printf("Created subscription %s for connection %s, expires %s", sub.SubscriptionID, connectionID, sub.ExpiresAt)
	return sub, nil
}

// Renew extends a subscription with the provider and schedules the next
// renewal. Renewing an inactive subscription is a no-op.
func (m *SubscriptionManager) Renew(ctx context.Context, subscriptionID string, connectionID string) error {
	sub, err := m.subscriptionRepo.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		log.Printf("Subscription %s is %s, skipping renewal", subscriptionID, sub.Status)
		return nil
	}

	conn, err := m.connectionRepo.GetByID(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	if conn.Status != models.ConnectionStatusActive {
		return fmt.Errorf("connection %s is not active (status: %s)", conn.ID, conn.Status)
	}

	accessToken, err := ensureAccessToken(ctx, conn, m.graphClient, m.connectionRepo)
	if err != nil {
		return err
	}

	renewed, err := m.graphClient.RenewSubscription(ctx, accessToken, subscriptionID, time.Now().Add(subscriptionTTL))
	if err != nil {
		return fmt.Errorf("failed to renew subscription: %w", err)
	}

	if err := m.subscriptionRepo.UpdateExpiration(ctx, sub.ID, renewed.ExpirationDateTime); err != nil {
		return fmt.Errorf("failed to store new expiration: %w", err)
	}

	if err := m.scheduleRenewal(ctx, subscriptionID, connectionID, renewed.ExpirationDateTime); err != nil {
		return fmt.Errorf("failed to schedule next renewal: %w", err)
	}

	log.Printf("Renewed subscription %s, now expires %s", subscriptionID, renewed.ExpirationDateTime)
	return nil
}

// Delete removes the subscription at the provider and deactivates the local
// record. A provider-side delete failure is logged but does not keep the
// record active.
func (m *SubscriptionManager) Delete(ctx context.Context, subscriptionID string) error {
	sub, err := m.subscriptionRepo.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	conn, err := m.connectionRepo.GetByID(ctx, sub.ConnectionID)
	if err == nil && conn.Status == models.ConnectionStatusActive {
		if accessToken, tokenErr := ensureAccessToken(ctx, conn, m.graphClient, m.connectionRepo); tokenErr == nil {
			if delErr := m.graphClient.DeleteSubscription(ctx, accessToken, subscriptionID); delErr != nil {
				log.Printf("Warning: provider-side delete of subscription %s failed: %v", subscriptionID, delErr)
			}
		}
	}

	if err := m.subscriptionRepo.Deactivate(ctx, sub.ID); err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	log.Printf("Deactivated subscription %s", subscriptionID)
	return nil
}

// scheduleRenewal enqueues the next renew_subscription job. The idempotency
// key carries the expiry timestamp, so each renewal window gets exactly one
// job no matter how often scheduling runs.
func (m *SubscriptionManager) scheduleRenewal(ctx context.Context, subscriptionID string, connectionID string, expiresAt time.Time) error {
	runAt := expiresAt.Add(-renewalLead)
	if runAt.Before(time.Now()) {
		runAt = time.Now()
	}

	_, err := m.jobs.Enqueue(ctx, models.JobTypeRenewSubscription, models.RenewSubscriptionPayload{
		SubscriptionID: subscriptionID,
		ConnectionID:   connectionID,
	}, repository.EnqueueOptions{
		IdempotencyKey: fmt.Sprintf("renew_subscription:%s:%d", subscriptionID, expiresAt.Unix()),
		ScheduledFor:   &runAt,
		ConnectionID:   connectionID,
	})
	return err
}
