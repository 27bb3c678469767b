package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/model"
)

// Config wires an OpenAI-compatible chat completion endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Provider answers visitor messages through an OpenAI-compatible chat
// model. It satisfies core.AIProvider.
type Provider struct {
	chat      einomodel.BaseChatModel
	modelName string
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai provider: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ai provider: model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	chat, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ai provider: %w", err)
	}

	log.Info().Str("model", cfg.Model).Msg("ai provider initialized")
	return &Provider{chat: chat, modelName: cfg.Model}, nil
}

// GenerateResponse turns the conversation into a chat prompt and asks
// the model for the next assistant turn.
func (p *Provider) GenerateResponse(ctx context.Context, history []model.Message, systemPrompt string) (string, error) {
	msgs := buildPrompt(history, systemPrompt)

	resp, err := p.chat.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("chat completion: empty response from %s", p.modelName)
	}
	return reply, nil
}

// buildPrompt maps the conversation onto chat roles: the visitor is the
// user, operator and AI turns are both the assistant side.
func buildPrompt(history []model.Message, systemPrompt string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, &schema.Message{Role: schema.System, Content: systemPrompt})
	}
	for _, m := range history {
		role := schema.Assistant
		if m.Sender == model.SenderVisitor {
			role = schema.User
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: m.Content})
	}
	return msgs
}
