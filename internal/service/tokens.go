package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/propstack/mail-worker/internal/models"
)

// tokenExpirySkew refreshes tokens slightly before they actually expire so
// in-flight requests never race the expiry.
const tokenExpirySkew = 5 * time.Minute

func isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return time.Now().Add(tokenExpirySkew).After(*expiresAt)
}

// ensureAccessToken returns a usable access token for the connection,
// refreshing and persisting it first when the stored one is expired.
func ensureAccessToken(ctx context.Context, conn *models.EmailConnection, client GraphClient, repo ConnectionRepository) (string, error) {
	if conn.AccessToken == nil || conn.RefreshToken == nil {
		return "", fmt.Errorf("connection %s has no stored tokens", conn.ID)
	}
	if !isTokenExpired(conn.TokenExpiresAt) {
		return *conn.AccessToken, nil
	}

	log.Printf("Access token expired for connection %s, refreshing...", conn.ID)
	result, err := client.RefreshAccessToken(ctx, *conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}

	if err := repo.UpdateTokens(ctx, conn.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	conn.AccessToken = &result.AccessToken
	conn.RefreshToken = &result.RefreshToken
	conn.TokenExpiresAt = &result.ExpiresAt
	return result.AccessToken, nil
}
