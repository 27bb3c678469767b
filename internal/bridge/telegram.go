package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/core"
	"github.com/pocketping/chat-server-go/internal/model"
	redisclient "github.com/pocketping/chat-server-go/internal/redis"
)

const (
	telegramAPIBase = "https://api.telegram.org/bot"

	// Telegram long poll duration; the poll client's timeout must be
	// longer than this.
	telegramPollSeconds = 30

	// How long a Telegram message id keeps routing replies back to its
	// session.
	telegramMappingTTL = 7 * 24 * time.Hour
)

// TelegramConfig wires a bot into a single operator chat.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramBridge relays conversations into a Telegram chat and feeds
// operator replies back through long polling. Reply routing works by
// remembering which Telegram message belongs to which session in redis;
// an operator answers a visitor by replying to the bridge's message.
type TelegramBridge struct {
	botToken string
	chatID   string
	apiBase  string

	redis      *redisclient.Client
	client     *http.Client
	pollClient *http.Client

	core   *core.Core
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramBridge(cfg TelegramConfig, redisClient *redisclient.Client) (*TelegramBridge, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bridge: bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bridge: chat id is required")
	}
	return &TelegramBridge{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		apiBase:    telegramAPIBase,
		redis:      redisClient,
		client:     &http.Client{Timeout: 30 * time.Second},
		pollClient: &http.Client{Timeout: (telegramPollSeconds + 10) * time.Second},
		done:       make(chan struct{}),
	}, nil
}

func (b *TelegramBridge) Name() string { return "telegram" }

func (b *TelegramBridge) Init(ctx context.Context, c *core.Core) error {
	b.core = c

	resp, err := b.callAPI(ctx, "getMe", nil)
	if err != nil {
		return fmt.Errorf("telegram bridge: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram bridge: getMe failed: %s", resp.Description)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.pollUpdates(pollCtx)

	log.Info().Str("chatId", b.chatID).Msg("telegram bridge started")
	return nil
}

func (b *TelegramBridge) Destroy(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *TelegramBridge) OnNewSession(ctx context.Context, session *model.Session) error {
	text := fmt.Sprintf("🆕 New chat session\n👤 Visitor: %s", visitorName(session))
	if session.Metadata != nil {
		if session.Metadata.Country != "" || session.Metadata.City != "" {
			text += fmt.Sprintf("\n🌍 %s %s", session.Metadata.Country, session.Metadata.City)
		}
		if session.Metadata.URL != "" {
			text += fmt.Sprintf("\n📍 %s", session.Metadata.URL)
		}
	}

	msgID, err := b.sendText(ctx, text)
	if err != nil {
		return err
	}
	b.rememberMessage(ctx, msgID, session.ID)
	return nil
}

func (b *TelegramBridge) OnVisitorMessage(ctx context.Context, msg *model.Message, session *model.Session) error {
	text := fmt.Sprintf("💬 %s:\n%s", visitorName(session), msg.Content)

	msgID, err := b.sendText(ctx, text)
	if err != nil {
		return err
	}
	b.rememberMessage(ctx, msgID, session.ID)
	return nil
}

func (b *TelegramBridge) OnOperatorMessage(ctx context.Context, msg *model.Message, session *model.Session, sourceBridge, operatorName string) error {
	if sourceBridge == b.Name() {
		return nil
	}

	name := operatorName
	if name == "" {
		name = "Operator"
		if msg.Sender == model.SenderAI {
			name = "AI Assistant"
		}
	}
	via := ""
	if sourceBridge != "" {
		via = fmt.Sprintf(" (via %s)", sourceBridge)
	}

	msgID, err := b.sendText(ctx, fmt.Sprintf("👤 %s%s:\n%s", name, via, msg.Content))
	if err != nil {
		return err
	}
	b.rememberMessage(ctx, msgID, session.ID)
	return nil
}

func (b *TelegramBridge) OnAITakeover(ctx context.Context, session *model.Session, reason string) error {
	text := fmt.Sprintf("🤖 AI took over the conversation with %s\nReason: %s\nReply here to take it back.",
		visitorName(session), reason)

	msgID, err := b.sendText(ctx, text)
	if err != nil {
		return err
	}
	b.rememberMessage(ctx, msgID, session.ID)
	return nil
}

func (b *TelegramBridge) OnEvent(ctx context.Context, event model.CustomEvent, session *model.Session) error {
	text := fmt.Sprintf("⚡ Event from %s: %s", visitorName(session), event.Name)
	if len(event.Data) > 0 {
		if data, err := json.Marshal(event.Data); err == nil {
			text += "\n" + string(data)
		}
	}

	msgID, err := b.sendText(ctx, text)
	if err != nil {
		return err
	}
	b.rememberMessage(ctx, msgID, session.ID)
	return nil
}

var (
	_ core.Bridge           = (*TelegramBridge)(nil)
	_ core.TakeoverNotifier = (*TelegramBridge)(nil)
	_ core.EventNotifier    = (*TelegramBridge)(nil)
)

// Incoming side

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From *struct {
			FirstName string `json:"first_name"`
			Username  string `json:"username,omitempty"`
			IsBot     bool   `json:"is_bot"`
		} `json:"from,omitempty"`
		Text           string `json:"text,omitempty"`
		ReplyToMessage *struct {
			MessageID int64 `json:"message_id"`
		} `json:"reply_to_message,omitempty"`
	} `json:"message,omitempty"`
}

func (b *TelegramBridge) pollUpdates(ctx context.Context) {
	defer close(b.done)

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("telegram poll failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *TelegramBridge) getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, error) {
	resp, err := b.call(ctx, b.pollClient, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         telegramPollSeconds,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("getUpdates: %s", resp.Description)
	}

	var updates []telegramUpdate
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("parse updates: %w", err)
	}
	return updates, nil
}

func (b *TelegramBridge) handleUpdate(ctx context.Context, update telegramUpdate) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	if fmt.Sprintf("%d", msg.Chat.ID) != b.chatID {
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		b.handleCommand(ctx, msg.Text)
		return
	}

	// Routing needs a reply: the operator answers a specific session by
	// replying to one of the bridge's messages for it.
	if msg.ReplyToMessage == nil {
		log.Debug().Msg("telegram message without reply context, ignoring")
		return
	}

	sessionID, err := b.sessionForMessage(ctx, msg.ReplyToMessage.MessageID)
	if err != nil {
		log.Warn().Err(err).Msg("telegram reply routing lookup failed")
		return
	}
	if sessionID == "" {
		log.Warn().
			Int64("replyTo", msg.ReplyToMessage.MessageID).
			Msg("telegram reply to an unmapped message, ignoring")
		return
	}

	operatorName := "Operator"
	if msg.From != nil && msg.From.FirstName != "" {
		operatorName = msg.From.FirstName
	}

	sent, err := b.core.SendOperatorMessage(ctx, core.OperatorMessageRequest{
		SessionID:    sessionID,
		Content:      msg.Text,
		OperatorName: operatorName,
		SourceBridge: b.Name(),
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to relay telegram reply")
		return
	}

	// The operator's own message can be replied to as well.
	b.rememberMessage(ctx, msg.MessageID, sessionID)
	log.Info().
		Str("sessionId", sessionID).
		Str("messageId", sent.ID).
		Msg("operator reply relayed from telegram")
}

func (b *TelegramBridge) handleCommand(ctx context.Context, text string) {
	cmd := strings.Fields(text)[0]
	// Commands in group chats can arrive as /online@botname.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/online":
		b.core.SetOperatorOnline(ctx, true)
		if _, err := b.sendText(ctx, "✅ You are now online"); err != nil {
			log.Warn().Err(err).Msg("telegram command ack failed")
		}
	case "/offline":
		b.core.SetOperatorOnline(ctx, false)
		if _, err := b.sendText(ctx, "💤 You are now offline"); err != nil {
			log.Warn().Err(err).Msg("telegram command ack failed")
		}
	}
}

// Reply routing map

func (b *TelegramBridge) rememberMessage(ctx context.Context, telegramMessageID int64, sessionID string) {
	if b.redis == nil || telegramMessageID == 0 {
		return
	}
	key := redisclient.TelegramMessageKey(telegramMessageID)
	if err := b.redis.Set(ctx, key, sessionID, telegramMappingTTL).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to store telegram message mapping")
	}
}

func (b *TelegramBridge) sessionForMessage(ctx context.Context, telegramMessageID int64) (string, error) {
	if b.redis == nil {
		return "", nil
	}
	sessionID, err := b.redis.Get(ctx, redisclient.TelegramMessageKey(telegramMessageID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// Telegram API plumbing

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (b *TelegramBridge) callAPI(ctx context.Context, method string, data map[string]any) (*telegramResponse, error) {
	return b.call(ctx, b.client, method, data)
}

func (b *TelegramBridge) call(ctx context.Context, client *http.Client, method string, data map[string]any) (*telegramResponse, error) {
	url := fmt.Sprintf("%s%s/%s", b.apiBase, b.botToken, method)

	var body io.Reader
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result telegramResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse telegram response: %w", err)
	}
	return &result, nil
}

func (b *TelegramBridge) sendText(ctx context.Context, text string) (int64, error) {
	resp, err := b.callAPI(ctx, "sendMessage", map[string]any{
		"chat_id": b.chatID,
		"text":    text,
	})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("sendMessage: %s", resp.Description)
	}

	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("parse sent message: %w", err)
	}
	return sent.MessageID, nil
}

func visitorName(session *model.Session) string {
	if session.Identity != nil {
		if session.Identity.Name != "" {
			return session.Identity.Name
		}
		if session.Identity.Email != "" {
			return session.Identity.Email
		}
	}
	return session.VisitorID
}
