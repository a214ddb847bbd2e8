// Package google implements model.ChatModel for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/planforge/flow/model"
)

const defaultModel = "gemini-1.5-flash"

// ChatModel wraps the official generative-ai-go client.
//
// Gemini takes system instructions separately from conversation content, so
// system messages are extracted before sending. Close should be called when
// the model is no longer needed.
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// New creates a Gemini-backed ChatModel. An empty modelName selects the
// default model.
func New(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if modelName == "" {
		modelName = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &ChatModel{client: client, modelName: modelName}, nil
}

// Close releases the underlying client's resources.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	gm := m.client.GenerativeModel(m.modelName)

	var system string
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(parts) == 0 {
		return model.ChatOut{}, errors.New("google: conversation requires at least one non-system message")
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return model.ChatOut{}, err
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}

	var usage model.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return model.ChatOut{Text: text, Usage: usage}, nil
}
