// Package flow runs the orchestration pipeline: one inbound intent in, one
// consolidated result out. Stages execute linearly; collaborator failures
// either fail the request or degrade it depending on whether the stage is
// load-bearing for the reply.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsdesk/pkg/erp"
	"opsdesk/pkg/guard"
	"opsdesk/pkg/inference"
	"opsdesk/pkg/intent"
	"opsdesk/pkg/knowledge"
	"opsdesk/pkg/memory"
	"opsdesk/pkg/report"
	"opsdesk/pkg/tenant"
)

// Stage names the pipeline position a request has reached.
type Stage string

const (
	StageReceived         Stage = "received"
	StageCustodyVerified  Stage = "custody-verified"
	StageTenantResolved   Stage = "tenant-resolved"
	StageContextHydrated  Stage = "context-hydrated"
	StageInferred         Stage = "inferred"
	StageActionDispatched Stage = "action-dispatched"
	StagePersisted        Stage = "persisted"
	StageConsolidated     Stage = "consolidated"
	StageFailed           Stage = "failed"
)

var (
	// ErrCustodyViolation signals that the intent content was altered
	// between channel ingress and orchestration.
	ErrCustodyViolation = errors.New("intent custody violation")
	// ErrInvalidIntent signals a structurally incomplete intent.
	ErrInvalidIntent = errors.New("invalid intent")
)

// DefaultHistoryLimit bounds the conversation window hydrated per request.
const DefaultHistoryLimit = 20

// fallbackMessage is returned when the provider produced nothing usable.
const fallbackMessage = "Thanks for reaching out. A member of our team will follow up with you shortly."

// pendingMessage is returned while an escalated action waits for human
// sanction.
const pendingMessage = "Your request needs a quick review by our team before we proceed. We will follow up shortly."

// Result is the consolidated outcome of one orchestrated request.
// FinalMessage is always set, even on degraded paths.
type Result struct {
	IntentID     string              `json:"intent_id"`
	TenantID     string              `json:"tenant_id"`
	Stage        Stage               `json:"stage"`
	Inference    inference.Response  `json:"inference"`
	ERPAction    *erp.ActionResponse `json:"erp_action,omitempty"`
	FinalMessage string              `json:"final_message"`
	Elapsed      time.Duration       `json:"elapsed"`
}

// Orchestrator wires the collaborators into the linear pipeline.
type Orchestrator struct {
	tenants      *tenant.Resolver
	providers    *inference.Registry
	retriever    knowledge.Retriever
	memory       memory.Store
	dispatcher   *guard.Dispatcher
	reporter     report.Reporter
	log          *slog.Logger
	historyLimit int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHistoryLimit overrides the hydrated conversation window.
func WithHistoryLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.historyLimit = limit
		}
	}
}

// New builds the orchestrator. All collaborators are required except the
// retriever, which may be nil for tenants without a knowledge base.
func New(tenants *tenant.Resolver, providers *inference.Registry, retriever knowledge.Retriever, store memory.Store, dispatcher *guard.Dispatcher, reporter report.Reporter, log *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if tenants == nil {
		return nil, errors.New("tenant resolver is required")
	}
	if providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("action dispatcher is required")
	}
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	orchestrator := &Orchestrator{
		tenants:      tenants,
		providers:    providers,
		retriever:    retriever,
		memory:       store,
		dispatcher:   dispatcher,
		reporter:     reporter,
		log:          log.With("component", "flow"),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator, nil
}

// Handle runs one intent through the pipeline. A non-nil sanction resumes a
// previously suspended action for the same payload.
func (o *Orchestrator) Handle(ctx context.Context, in intent.NeuralIntent, sanction *guard.Sanction) (Result, error) {
	startedAt := time.Now()
	result := Result{IntentID: in.ID, TenantID: in.TenantID, Stage: StageReceived}

	finish := func(stage Stage) Result {
		result.Stage = stage
		result.Elapsed = time.Since(startedAt)
		return result
	}

	if err := in.Validate(); err != nil {
		return finish(StageFailed), fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	if err := in.Verify(); err != nil {
		o.reporter.Report(ctx, report.Incident{
			Severity:    report.SeverityCritical,
			Code:        "intent-custody-violation",
			Message:     "intent content does not match its ingress checksum",
			Recoverable: false,
			Fields:      map[string]string{"tenant_id": in.TenantID, "intent_id": in.ID, "channel": string(in.Channel)},
		})
		return finish(StageFailed), fmt.Errorf("%w: %v", ErrCustodyViolation, err)
	}
	result.Stage = StageCustodyVerified

	cfg, err := o.tenants.Resolve(ctx, in.TenantID)
	if err != nil {
		return finish(StageFailed), fmt.Errorf("resolve tenant: %w", err)
	}
	result.Stage = StageTenantResolved

	history, chunks := o.hydrate(ctx, cfg, in)
	result.Stage = StageContextHydrated

	provider, err := o.providers.Lookup(cfg.Inference.Provider)
	if err != nil {
		return finish(StageFailed), err
	}

	response, err := provider.Respond(ctx, inference.Request{
		TenantID:       cfg.ID,
		ConversationID: in.SessionKey(),
		Content:        in.Payload.Content,
		Model:          cfg.Inference,
		History:        history,
		Knowledge:      chunks,
	})
	if err != nil {
		o.reporter.Report(ctx, report.Incident{
			Severity:    report.SeverityHigh,
			Code:        "inference-failed",
			Message:     "inference provider failed",
			Recoverable: true,
			Fields:      map[string]string{"tenant_id": cfg.ID, "intent_id": in.ID, "provider": cfg.Inference.Provider, "error": err.Error()},
		})
		return finish(StageFailed), fmt.Errorf("inference: %w", err)
	}
	if err := response.Validate(); err != nil {
		return finish(StageFailed), fmt.Errorf("inference response: %w", err)
	}
	result.Inference = response
	result.Stage = StageInferred

	if response.Status == inference.StatusEscalatedToERP {
		action, err := o.dispatcher.Dispatch(ctx, in, response, cfg, sanction)
		if err != nil {
			return finish(StageFailed), fmt.Errorf("dispatch action: %w", err)
		}
		result.ERPAction = &action
	}
	result.Stage = StageActionDispatched

	o.persistTurns(ctx, cfg, in, response)
	result.Stage = StagePersisted

	result.FinalMessage = consolidate(response, result.ERPAction)

	o.log.Info("Request consolidated",
		"tenant_id", cfg.ID, "intent_id", in.ID,
		"status", string(response.Status), "confidence", response.Confidence,
		"elapsed_ms", time.Since(startedAt).Milliseconds())

	return finish(StageConsolidated), nil
}

// hydrate loads the conversation window and knowledge chunks. Either read
// failing degrades the request to an empty context instead of failing it.
func (o *Orchestrator) hydrate(ctx context.Context, cfg tenant.Configuration, in intent.NeuralIntent) ([]memory.Turn, []knowledge.Chunk) {
	history, err := o.memory.Recent(ctx, in.SessionKey(), o.historyLimit)
	if err != nil {
		o.reporter.Report(ctx, report.Incident{
			Severity:    report.SeverityHigh,
			Code:        "memory-read-failed",
			Message:     "conversation history read failed",
			Recoverable: true,
			Fields:      map[string]string{"tenant_id": cfg.ID, "intent_id": in.ID, "error": err.Error()},
		})
		history = nil
	}

	var chunks []knowledge.Chunk
	if o.retriever != nil {
		chunks, err = o.retriever.Retrieve(ctx, cfg.Retrieval, in.Payload.Content)
		if err != nil {
			o.reporter.Report(ctx, report.Incident{
				Severity:    report.SeverityHigh,
				Code:        "knowledge-retrieval-failed",
				Message:     "knowledge retrieval failed",
				Recoverable: true,
				Fields:      map[string]string{"tenant_id": cfg.ID, "intent_id": in.ID, "error": err.Error()},
			})
			chunks = nil
		}
	}

	return history, chunks
}

// persistTurns appends the user and assistant turns concurrently. Write
// failures are reported and dropped; persistence never fails the request.
func (o *Orchestrator) persistTurns(ctx context.Context, cfg tenant.Configuration, in intent.NeuralIntent, response inference.Response) {
	now := time.Now().UTC()
	turns := []memory.Turn{
		{
			ID:         uuid.NewString(),
			TenantID:   cfg.ID,
			SessionKey: in.SessionKey(),
			Role:       memory.RoleUser,
			Content:    in.Payload.Content,
			At:         now,
		},
		{
			ID:         uuid.NewString(),
			TenantID:   cfg.ID,
			SessionKey: in.SessionKey(),
			Role:       memory.RoleAssistant,
			Content:    response.Suggested,
			At:         now.Add(time.Millisecond),
		},
	}

	var wg sync.WaitGroup
	for _, turn := range turns {
		wg.Add(1)
		go func(turn memory.Turn) {
			defer wg.Done()
			if err := o.memory.Append(ctx, turn); err != nil {
				o.reporter.Report(ctx, report.Incident{
					Severity:    report.SeverityHigh,
					Code:        "memory-append-failed",
					Message:     "conversation turn write failed",
					Recoverable: true,
					Fields:      map[string]string{"tenant_id": cfg.ID, "intent_id": in.ID, "role": turn.Role, "error": err.Error()},
				})
			}
		}(turn)
	}
	wg.Wait()
}

// consolidate picks the user-facing message for the result.
func consolidate(response inference.Response, action *erp.ActionResponse) string {
	if action != nil && action.SyncStatus == erp.StatusPendingApproval {
		return pendingMessage
	}
	if response.Suggested == "" {
		return fallbackMessage
	}
	return response.Suggested
}
