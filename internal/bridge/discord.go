package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/core"
	"github.com/pocketping/chat-server-go/internal/model"
)

// Discord embed accent colors.
const (
	discordColorNew      = 0x57F287 // green
	discordColorVisitor  = 0x5865F2 // blurple
	discordColorOperator = 0x99AAB5 // grey
	discordColorTakeover = 0xFEE75C // yellow
	discordColorEvent    = 0xEB459E // fuchsia
)

// DiscordBridge pushes conversation notifications into a Discord
// channel through an incoming webhook. It is outbound only; operator
// replies come through other channels.
type DiscordBridge struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordBridge(webhookURL string) (*DiscordBridge, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("discord bridge: webhook url is required")
	}
	return &DiscordBridge{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (b *DiscordBridge) Name() string { return "discord" }

func (b *DiscordBridge) Init(ctx context.Context, c *core.Core) error {
	log.Info().Msg("discord bridge started")
	return nil
}

func (b *DiscordBridge) Destroy(ctx context.Context) error { return nil }

func (b *DiscordBridge) OnNewSession(ctx context.Context, session *model.Session) error {
	fields := []discordField{
		{Name: "Visitor", Value: visitorName(session), Inline: true},
	}
	if session.Metadata != nil && session.Metadata.URL != "" {
		fields = append(fields, discordField{Name: "Page", Value: session.Metadata.URL})
	}
	if session.Metadata != nil && (session.Metadata.Country != "" || session.Metadata.City != "") {
		fields = append(fields, discordField{
			Name:   "Location",
			Value:  fmt.Sprintf("%s %s", session.Metadata.Country, session.Metadata.City),
			Inline: true,
		})
	}
	return b.send(ctx, discordEmbed{
		Title:  "🆕 New chat session",
		Color:  discordColorNew,
		Fields: fields,
		Footer: &discordFooter{Text: session.ID},
	})
}

func (b *DiscordBridge) OnVisitorMessage(ctx context.Context, msg *model.Message, session *model.Session) error {
	return b.send(ctx, discordEmbed{
		Title:       fmt.Sprintf("💬 %s", visitorName(session)),
		Description: msg.Content,
		Color:       discordColorVisitor,
		Footer:      &discordFooter{Text: session.ID},
	})
}

func (b *DiscordBridge) OnOperatorMessage(ctx context.Context, msg *model.Message, session *model.Session, sourceBridge, operatorName string) error {
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
	title := fmt.Sprintf("👤 %s", name)
	if sourceBridge != "" {
		title += fmt.Sprintf(" (via %s)", sourceBridge)
	}

	return b.send(ctx, discordEmbed{
		Title:       title,
		Description: msg.Content,
		Color:       discordColorOperator,
		Footer:      &discordFooter{Text: session.ID},
	})
}

func (b *DiscordBridge) OnAITakeover(ctx context.Context, session *model.Session, reason string) error {
	return b.send(ctx, discordEmbed{
		Title:       "🤖 AI takeover",
		Description: fmt.Sprintf("The AI is now answering %s.\nReason: %s", visitorName(session), reason),
		Color:       discordColorTakeover,
		Footer:      &discordFooter{Text: session.ID},
	})
}

func (b *DiscordBridge) OnEvent(ctx context.Context, event model.CustomEvent, session *model.Session) error {
	description := ""
	if len(event.Data) > 0 {
		if data, err := json.Marshal(event.Data); err == nil {
			description = fmt.Sprintf("```json\n%s\n```", data)
		}
	}
	return b.send(ctx, discordEmbed{
		Title:       fmt.Sprintf("⚡ Event: %s", event.Name),
		Description: description,
		Color:       discordColorEvent,
		Footer:      &discordFooter{Text: session.ID},
	})
}

var (
	_ core.Bridge           = (*DiscordBridge)(nil)
	_ core.TakeoverNotifier = (*DiscordBridge)(nil)
	_ core.EventNotifier    = (*DiscordBridge)(nil)
)

type discordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (b *DiscordBridge) send(ctx context.Context, embed discordEmbed) error {
	payload, err := json.Marshal(map[string]any{
		"embeds": []discordEmbed{embed},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
