// Package fantasy implements the inference provider contract on top of the
// fantasy LLM abstraction, currently backed by its OpenAI provider.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"opsdesk/pkg/config"
	"opsdesk/pkg/inference"
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client resolves tenant models through fantasy and maps agent output onto
// the shared inference envelope.
type Client struct {
	provider       languageModelProvider
	requestTimeout time.Duration
	generate       func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

// New constructs a fantasy-backed client.
func New(cfg config.OpenAIProviderConfig) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set for the fantasy provider")
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	return &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		generate:       generateWithAgent,
	}, nil
}

// Respond runs one inference step.
func (c *Client) Respond(ctx context.Context, req inference.Request) (inference.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return inference.Response{}, errors.New("intent content is required")
	}

	modelID := strings.TrimSpace(req.Model.Model)
	if modelID == "" {
		return inference.Response{}, errors.New("model is required")
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return inference.Response{}, fmt.Errorf("resolve language model: %w", err)
	}

	messages := []core.Message{{
		Role:    core.MessageRoleSystem,
		Content: []core.MessagePart{core.TextPart{Text: inference.SystemPrompt(req.Knowledge)}},
	}}
	for _, turn := range req.History {
		role := core.MessageRoleUser
		if turn.Role == "assistant" {
			role = core.MessageRoleAssistant
		}
		messages = append(messages, core.Message{
			Role:    role,
			Content: []core.MessagePart{core.TextPart{Text: turn.Content}},
		})
	}

	call := core.AgentCall{
		Prompt:   content,
		Messages: messages,
	}
	if req.Model.MaxTokens > 0 {
		maxTokens := int64(req.Model.MaxTokens)
		call.MaxOutputTokens = &maxTokens
	}
	if req.Model.Temperature > 0 {
		temperature := req.Model.Temperature
		call.Temperature = &temperature
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		return inference.Response{}, fmt.Errorf("inference failed: %w", err)
	}

	text := extractText(result.Response.Content)
	if text == "" {
		return inference.Response{}, errors.New("inference succeeded but returned no text")
	}

	return inference.ParseModelReply(req.ConversationID, text), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}
