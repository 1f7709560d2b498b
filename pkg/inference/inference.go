// Package inference defines the cognitive collaborator contract: given the
// intent content, conversation history, and retrieved knowledge, a provider
// produces a suggested reply with a resolution status and confidence.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"opsdesk/pkg/knowledge"
	"opsdesk/pkg/memory"
	"opsdesk/pkg/tenant"
)

// Status is the resolution outcome signaled by the provider.
type Status string

const (
	StatusResolved       Status = "resolved"
	StatusNeedsHuman     Status = "needs-human"
	StatusNeedsMoreInfo  Status = "needs-more-info"
	StatusEscalatedToERP Status = "escalated-to-erp"
)

// Request carries everything a provider needs for one inference step.
type Request struct {
	TenantID       string
	ConversationID string
	Content        string
	Model          tenant.InferenceConfig
	History        []memory.Turn
	Knowledge      []knowledge.Chunk
}

// Response is the provider's answer for one request.
type Response struct {
	ConversationID string   `json:"conversation_id"`
	Suggested      string   `json:"suggested"`
	Status         Status   `json:"status"`
	Confidence     float64  `json:"confidence"`
	Sources        []string `json:"sources,omitempty"`
}

// Validate checks the response against the shared inference contract.
func (r Response) Validate() error {
	switch r.Status {
	case StatusResolved, StatusNeedsHuman, StatusNeedsMoreInfo, StatusEscalatedToERP:
	default:
		return fmt.Errorf("unknown inference status %q", r.Status)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	if strings.TrimSpace(r.Suggested) == "" {
		return errors.New("suggested reply is empty")
	}
	return nil
}

// Provider executes one inference step against a model backend.
type Provider interface {
	Respond(ctx context.Context, req Request) (Response, error)
}

// Registry maps tenant provider identifiers to clients. Registration
// happens at startup; lookups happen per request.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a provider id. Later registrations replace earlier ones.
func (r *Registry) Register(id string, provider Provider) {
	id = strings.TrimSpace(id)
	if id == "" || provider == nil {
		return
	}

	r.mu.Lock()
	r.providers[id] = provider
	r.mu.Unlock()
}

// Lookup resolves a provider id.
func (r *Registry) Lookup(id string) (Provider, error) {
	r.mu.RLock()
	provider, ok := r.providers[strings.TrimSpace(id)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported inference provider: %s", id)
	}
	return provider, nil
}

// replyEnvelope is the JSON contract providers instruct the model to emit.
type replyEnvelope struct {
	Reply      string   `json:"reply"`
	Status     string   `json:"status"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// SystemPrompt renders the instruction block shared by model-backed
// providers: answer from the knowledge excerpts and emit the JSON envelope.
func SystemPrompt(chunks []knowledge.Chunk) string {
	var b strings.Builder
	b.WriteString("You are a support agent for this organization. Answer using the knowledge excerpts when relevant.\n")
	b.WriteString("If the request requires an operational change in the business system (refund, order change, account mutation), set status to \"escalated-to-erp\".\n")
	b.WriteString("Respond with a single JSON object: {\"reply\": string, \"status\": one of [\"resolved\",\"needs-human\",\"needs-more-info\",\"escalated-to-erp\"], \"confidence\": number in [0,1], \"sources\": [string]}.\n")

	if len(chunks) > 0 {
		b.WriteString("\nKnowledge excerpts:\n")
		for _, chunk := range chunks {
			fmt.Fprintf(&b, "- [%s] %s\n", chunk.Source, chunk.Content)
		}
	}
	return b.String()
}

// ParseModelReply decodes the model's JSON envelope leniently. Plain text
// that is not valid JSON becomes a needs-human reply at low confidence so a
// malformed model turn never silently triggers an escalation.
func ParseModelReply(conversationID, raw string) Response {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var envelope replyEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || strings.TrimSpace(envelope.Reply) == "" {
		return Response{
			ConversationID: conversationID,
			Suggested:      raw,
			Status:         StatusNeedsHuman,
			Confidence:     0.3,
		}
	}

	status := Status(strings.TrimSpace(envelope.Status))
	switch status {
	case StatusResolved, StatusNeedsHuman, StatusNeedsMoreInfo, StatusEscalatedToERP:
	default:
		status = StatusNeedsHuman
	}

	confidence := envelope.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Response{
		ConversationID: conversationID,
		Suggested:      strings.TrimSpace(envelope.Reply),
		Status:         status,
		Confidence:     confidence,
		Sources:        envelope.Sources,
	}
}

// Mock is a scripted provider for tests and the "mock" tenant provider id.
type Mock struct {
	Reply      string
	Status     Status
	Confidence float64
	Err        error
}

func (m *Mock) Respond(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if m.Err != nil {
		return Response{}, m.Err
	}

	reply := m.Reply
	if reply == "" {
		reply = "Thanks for reaching out. We are on it."
	}
	status := m.Status
	if status == "" {
		status = StatusResolved
	}

	return Response{
		ConversationID: req.ConversationID,
		Suggested:      reply,
		Status:         status,
		Confidence:     m.Confidence,
	}, nil
}
