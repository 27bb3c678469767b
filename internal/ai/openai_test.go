package ai

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/chat-server-go/internal/model"
)

func TestBuildPrompt(t *testing.T) {
	history := []model.Message{
		{Sender: model.SenderVisitor, Content: "do you ship to Norway?"},
		{Sender: model.SenderOperator, Content: "yes, within 5 days"},
		{Sender: model.SenderVisitor, Content: "and the cost?"},
		{Sender: model.SenderAI, Content: "shipping to Norway is 9 EUR"},
	}

	msgs := buildPrompt(history, "be helpful")
	require.Len(t, msgs, 5)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, schema.User, msgs[3].Role)
	assert.Equal(t, schema.Assistant, msgs[4].Role)
}

func TestBuildPromptWithoutSystemPrompt(t *testing.T) {
	msgs := buildPrompt([]model.Message{{Sender: model.SenderVisitor, Content: "hi"}}, "")
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.User, msgs[0].Role)
}
