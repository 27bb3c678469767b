package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("AITakeoverDelay converts seconds to duration", func(t *testing.T) {
		cfg := &Config{AITakeoverDelaySeconds: 300}
		assert.Equal(t, 5*time.Minute, cfg.AITakeoverDelay())
	})

	t.Run("SessionRetention converts days to duration", func(t *testing.T) {
		cfg := &Config{SessionRetentionDays: 30}
		assert.Equal(t, 30*24*time.Hour, cfg.SessionRetention())
	})

	t.Run("AIEnabled follows the api key", func(t *testing.T) {
		assert.False(t, (&Config{}).AIEnabled())
		assert.True(t, (&Config{AIAPIKey: "sk-test"}).AIEnabled())
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects non-positive takeover delay", func(t *testing.T) {
		cfg := &Config{AITakeoverDelaySeconds: 0}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects telegram token without chat id", func(t *testing.T) {
		cfg := &Config{
			AITakeoverDelaySeconds: 300,
			TelegramBotToken:       "123:abc",
		}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("accepts telegram token with chat id", func(t *testing.T) {
		cfg := &Config{
			AITakeoverDelaySeconds: 300,
			TelegramBotToken:       "123:abc",
			TelegramChatID:         "-100123",
		}
		assert.NoError(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                      os.Getenv("PORT"),
		"DATABASE_URL":              os.Getenv("DATABASE_URL"),
		"REDIS_URL":                 os.Getenv("REDIS_URL"),
		"LOG_LEVEL":                 os.Getenv("LOG_LEVEL"),
		"AI_MODEL":                  os.Getenv("AI_MODEL"),
		"AI_TAKEOVER_DELAY_SECONDS": os.Getenv("AI_TAKEOVER_DELAY_SECONDS"),
		"SESSION_RETENTION_DAYS":    os.Getenv("SESSION_RETENTION_DAYS"),
		"RATE_LIMIT_PER_MIN":        os.Getenv("RATE_LIMIT_PER_MIN"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("AI_MODEL")
		os.Unsetenv("AI_TAKEOVER_DELAY_SECONDS")
		os.Unsetenv("SESSION_RETENTION_DAYS")
		os.Unsetenv("RATE_LIMIT_PER_MIN")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "gpt-4o-mini", cfg.AIModel)
		assert.Equal(t, 300, cfg.AITakeoverDelaySeconds)
		assert.Equal(t, 30, cfg.SessionRetentionDays)
		assert.Equal(t, 120, cfg.RateLimitPerMin)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("AI_TAKEOVER_DELAY_SECONDS", "120")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 120, cfg.AITakeoverDelaySeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
