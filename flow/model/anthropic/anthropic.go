// Package anthropic implements model.ChatModel for Anthropic's Claude API.
package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/planforge/flow/model"
)

const defaultModel = "claude-3-5-sonnet-20241022"

// ChatModel wraps the official anthropic-sdk-go client.
//
// Anthropic expects the system prompt as a separate request parameter, so
// system messages are extracted from the conversation before sending.
//
// Example:
//
//	m := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "claude-3-5-sonnet-20241022")
//	out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hello"}})
type ChatModel struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// New creates a Claude-backed ChatModel. An empty modelName selects the
// default model.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
		maxTokens: 4096,
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	systemPrompt, conversation := splitSystemPrompt(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("anthropic: conversation requires at least one non-system message")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(conversation),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return model.ChatOut{
		Text: text,
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// splitSystemPrompt separates system messages from the conversation.
// Multiple system messages are concatenated.
func splitSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}

	return systemPrompt, conversation
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			converted = append(converted, anthropic.NewAssistantMessage(block))
			continue
		}
		converted = append(converted, anthropic.NewUserMessage(block))
	}
	return converted
}
