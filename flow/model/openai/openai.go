// Package openai implements model.ChatModel for OpenAI's chat completion API.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/planforge/flow/model"
)

const defaultModel = "gpt-4o-mini"

// ChatModel wraps the official openai-go client.
//
// Example:
//
//	m := openai.New(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//	out, err := m.Chat(ctx, messages)
type ChatModel struct {
	client    openai.Client
	modelName string
}

// New creates an OpenAI-backed ChatModel. An empty modelName selects the
// default model.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return model.ChatOut{}, err
	}

	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: no choices in response")
	}

	return model.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			converted = append(converted, openai.AssistantMessage(msg.Content))
		default:
			converted = append(converted, openai.UserMessage(msg.Content))
		}
	}
	return converted
}
