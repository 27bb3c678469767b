package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SessionChannel is the pubsub channel carrying realtime events for a session.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session:events:%s", sessionID)
}

// TelegramMessageKey maps a Telegram message id back to the session it
// belongs to, so operator replies can be routed.
func TelegramMessageKey(messageID int64) string {
	return fmt.Sprintf("bridge:telegram:msg:%d", messageID)
}
