package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	TakeoverCheckInterval = 30 * time.Second
	CleanupJobInterval    = 1 * time.Hour
)

// DefaultSystemPrompt is used when AI_SYSTEM_PROMPT is not set.
const DefaultSystemPrompt = "You are a helpful customer support assistant. " +
	"Be friendly, concise, and helpful. " +
	"If you don't know something, say so and offer to connect them with a human."
