// Package openai implements the inference provider contract against the
// OpenAI Responses API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"opsdesk/pkg/config"
	"opsdesk/pkg/inference"
)

// Client calls the OpenAI Responses API and maps model output onto the
// shared inference envelope.
type Client struct {
	client         osdk.Client
	requestTimeout time.Duration
}

// New validates provider configuration and constructs a client.
func New(cfg config.OpenAIProviderConfig) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		requestTimeout: requestTimeout,
	}, nil
}

// Respond runs one inference step.
func (c *Client) Respond(ctx context.Context, req inference.Request) (inference.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "respond")
	startedAt := time.Now()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return inference.Response{}, errors.New("intent content is required")
	}

	model := strings.TrimSpace(req.Model.Model)
	if model == "" {
		return inference.Response{}, errors.New("model is required")
	}

	log.Debug("provider request started", "model", model, "content_length", len(content))

	response, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        model,
		Instructions: osdk.String(inference.SystemPrompt(req.Knowledge)),
		Input:        responses.ResponseNewParamsInputUnion{OfString: osdk.String(buildInput(req))},
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return inference.Response{}, fmt.Errorf("inference failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		return inference.Response{}, errors.New("inference succeeded but returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return inference.ParseModelReply(req.ConversationID, text), nil
}

// buildInput folds the bounded conversation history ahead of the new
// message so the model sees the running exchange.
func buildInput(req inference.Request) string {
	if len(req.History) == 0 {
		return req.Content
	}

	var b strings.Builder
	for _, turn := range req.History {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	b.WriteString("user: ")
	b.WriteString(req.Content)
	return b.String()
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "inference.openai")
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
