package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	WelcomeMessage string `env:"WELCOME_MESSAGE"`

	// AI fallback
	AIAPIKey               string `env:"AI_API_KEY"`
	AIBaseURL              string `env:"AI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AIModel                string `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	AISystemPrompt         string `env:"AI_SYSTEM_PROMPT"`
	AITakeoverDelaySeconds int    `env:"AI_TAKEOVER_DELAY_SECONDS" envDefault:"300"`

	// Bridges
	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string `env:"TELEGRAM_CHAT_ID"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	SessionRetentionDays int `env:"SESSION_RETENTION_DAYS" envDefault:"30"`
	RateLimitPerMin      int `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) AITakeoverDelay() time.Duration {
	return time.Duration(c.AITakeoverDelaySeconds) * time.Second
}

func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionDays) * 24 * time.Hour
}

// AIEnabled reports whether an AI provider should be wired at all.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.AITakeoverDelaySeconds <= 0 {
		return fmt.Errorf("AI_TAKEOVER_DELAY_SECONDS must be positive")
	}

	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !c.AIEnabled() {
			log.Warn().Msg("AI_API_KEY is empty: AI fallback disabled, unanswered sessions stay unanswered")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
