package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL          string
	HTTPPort             int
	PollIntervalMs       int
	MaxConcurrentJobs    int
	StaleJobMinutes      int
	CleanupRetentionDays int
	ShutdownTimeout      int // seconds
	GraphClientID        string
	GraphClientSecret    string
	GraphTenantID        string
	OpenRouterAPIKey     string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	graphClientID := os.Getenv("GRAPH_CLIENT_ID")
	graphClientSecret := os.Getenv("GRAPH_CLIENT_SECRET")
	if graphClientID == "" || graphClientSecret == "" {
		fmt.Println("Warning: GRAPH_CLIENT_ID or GRAPH_CLIENT_SECRET not set, Microsoft Graph API will not work")
	}

	graphTenantID := os.Getenv("GRAPH_TENANT_ID")
	if graphTenantID == "" {
		graphTenantID = "common"
	}

	openRouterAPIKey := os.Getenv("OPENROUTER_API_KEY")
	if openRouterAPIKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, AI email analysis will not work")
	}

	return &Config{
		DatabaseURL:          dbURL,
		HTTPPort:             envInt("HTTP_PORT", 8080),
		PollIntervalMs:       envInt("POLL_INTERVAL_MS", 5000),
		MaxConcurrentJobs:    envInt("MAX_CONCURRENT_JOBS", 5),
		StaleJobMinutes:      envInt("STALE_JOB_MINUTES", 10),
		CleanupRetentionDays: envInt("CLEANUP_RETENTION_DAYS", 7),
		ShutdownTimeout:      envInt("SHUTDOWN_TIMEOUT", 30),
		GraphClientID:        graphClientID,
		GraphClientSecret:    graphClientSecret,
		GraphTenantID:        graphTenantID,
		OpenRouterAPIKey:     openRouterAPIKey,
	}, nil
}

// envInt reads an integer environment variable, falling back to def when the
// variable is unset or malformed.
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, raw, def)
		return def
	}
	return v
}
