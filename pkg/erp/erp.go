// Package erp defines the shared contract between the action dispatcher and
// the pluggable ERP adapters.
package erp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SyncStatus describes where an operational action stands relative to the
// external business system.
type SyncStatus string

const (
	StatusSynced             SyncStatus = "synced"
	StatusPending            SyncStatus = "pending"
	StatusFailedRetrying     SyncStatus = "failed-retrying"
	StatusManualIntervention SyncStatus = "manual-intervention"
	StatusPendingApproval    SyncStatus = "pending-approval"
)

// DefaultPriority is applied to tickets created from escalated intents.
const DefaultPriority = "normal"

// GuardContext travels with a suspended action so the approval UI can show
// the reviewer exactly what was held and why.
type GuardContext struct {
	SuspensionReason string    `json:"suspension_reason"`
	RiskScore        float64   `json:"risk_score"`
	SuspendedAt      time.Time `json:"suspended_at"`
	IntentSnapshot   string    `json:"intent_snapshot"`
	PayloadHash      string    `json:"payload_hash"`
}

// ActionResponse is the single response shape for "not needed",
// "suspended", and "executed" outcomes alike.
type ActionResponse struct {
	Success      bool              `json:"success"`
	ExternalID   string            `json:"external_id,omitempty"`
	SyncStatus   SyncStatus        `json:"sync_status"`
	MessageKey   string            `json:"message_key"`
	LatencyMs    int64             `json:"latency_ms"`
	GuardContext *GuardContext     `json:"guard_context,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate enforces the shared ERP response contract.
func (r ActionResponse) Validate() error {
	switch r.SyncStatus {
	case StatusSynced, StatusPending, StatusFailedRetrying, StatusManualIntervention, StatusPendingApproval:
	default:
		return fmt.Errorf("unknown sync status %q", r.SyncStatus)
	}
	if strings.TrimSpace(r.MessageKey) == "" {
		return errors.New("message key is required")
	}
	if r.Success && r.SyncStatus != StatusSynced && r.SyncStatus != StatusPending {
		return fmt.Errorf("success response carries sync status %q", r.SyncStatus)
	}
	return nil
}

// TicketRequest is the adapter-facing shape of one escalated action.
// Provenance carries the integrity seal of the sanctioned payload so the
// external record is traceable back to what was reviewed.
type TicketRequest struct {
	TenantID    string
	Subject     string
	Description string
	Priority    string
	Provenance  map[string]string
}

// Credentials is the unsealed connection identity handed to a real adapter
// at dispatch time.
type Credentials struct {
	Endpoint string
	Database string
	Login    string
	Secret   string
}

// Adapter creates tickets/records in one external business system.
type Adapter interface {
	Name() string
	CreateTicket(ctx context.Context, req TicketRequest) (ActionResponse, error)
}

// Factory builds an adapter bound to one tenant's credentials. The mock
// factory ignores them.
type Factory func(creds Credentials) (Adapter, error)

// MockAdapterID selects the no-op adapter; tenants use it in test and
// provisioning states.
const MockAdapterID = "mock"

// Registry resolves adapter identifiers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds a registry with the mock adapter preregistered.
func NewRegistry() *Registry {
	registry := &Registry{factories: make(map[string]Factory)}
	registry.Register(MockAdapterID, func(Credentials) (Adapter, error) {
		return &MockAdapter{}, nil
	})
	return registry
}

// Register binds an adapter identifier. Later registrations replace
// earlier ones.
func (r *Registry) Register(id string, factory Factory) {
	id = strings.TrimSpace(id)
	if id == "" || factory == nil {
		return
	}

	r.mu.Lock()
	r.factories[id] = factory
	r.mu.Unlock()
}

// Resolve builds the adapter for an identifier.
func (r *Registry) Resolve(id string, creds Credentials) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.TrimSpace(id)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown erp adapter: %s", id)
	}
	return factory(creds)
}

// MockAdapter acknowledges ticket creation without touching any external
// system.
type MockAdapter struct {
	calls atomic.Int64
}

func (a *MockAdapter) Name() string { return MockAdapterID }

// Calls reports how many tickets were created; tests assert on it.
func (a *MockAdapter) Calls() int64 { return a.calls.Load() }

func (a *MockAdapter) CreateTicket(ctx context.Context, req TicketRequest) (ActionResponse, error) {
	if err := ctx.Err(); err != nil {
		return ActionResponse{}, err
	}
	if strings.TrimSpace(req.Subject) == "" {
		return ActionResponse{}, errors.New("ticket subject is required")
	}

	n := a.calls.Add(1)
	return ActionResponse{
		Success:    true,
		ExternalID: fmt.Sprintf("mock-%d", n),
		SyncStatus: StatusSynced,
		MessageKey: "erp.ticket.created",
		Metadata:   map[string]string{"adapter": MockAdapterID},
	}, nil
}
