// Package tenant resolves tenant identifiers to their authoritative
// configuration, caching validated records with a short TTL.
package tenant

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the operational state of a tenant. Only active tenants may
// drive the orchestration pipeline.
type Status string

const (
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusMaintenance  Status = "maintenance"
	StatusProvisioning Status = "provisioning"
	StatusArchived     Status = "archived"
)

var (
	// ErrNotFound signals that no tenant record exists for the id, or that
	// the stored record failed schema validation.
	ErrNotFound = errors.New("tenant not found")
	// ErrInactive signals that the tenant exists but its status gates it
	// out of request processing.
	ErrInactive = errors.New("tenant is not active")
	// ErrUnavailable signals that the backing store could not be reached
	// after retries.
	ErrUnavailable = errors.New("tenant store unavailable")
)

// Governance is the tenant's action-guard policy sub-record.
type Governance struct {
	ManualApprovalRequired bool     `json:"manual_approval_required"`
	MinAutoExecConfidence  float64  `json:"min_auto_exec_confidence"`
	NotificationChannels   []string `json:"notification_channels,omitempty"`
	GovernanceVersion      string   `json:"governance_version,omitempty"`
}

// InferenceConfig selects the tenant's inference provider and model
// parameters.
type InferenceConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	ModelTier   string  `json:"model_tier"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ERPSettings selects and credentials the tenant's ERP adapter.
// Credentials is a sealed ciphertext; only the dispatcher unseals it, and
// only when a real adapter is about to execute.
type ERPSettings struct {
	Adapter     string     `json:"adapter"`
	Endpoint    string     `json:"endpoint"`
	Database    string     `json:"database"`
	Login       string     `json:"login"`
	Credentials string     `json:"credentials"`
	Governance  Governance `json:"governance"`
}

// RetrievalConfig bounds knowledge retrieval for the tenant.
type RetrievalConfig struct {
	MaxChunks           int     `json:"max_chunks"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// Branding carries the customer-facing presentation settings.
type Branding struct {
	DisplayName string `json:"display_name,omitempty"`
	Greeting    string `json:"greeting,omitempty"`
	AccentColor string `json:"accent_color,omitempty"`
}

// Configuration is the authoritative description of one subscribing
// organization. It is loaded from the relational store, cached, and treated
// as read-only within a request.
type Configuration struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Status    Status          `json:"status"`
	Inference InferenceConfig `json:"inference"`
	ERP       ERPSettings     `json:"erp"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Branding  Branding        `json:"branding"`
	Region    string          `json:"region,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks the loaded record against the configuration schema.
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("tenant name is required")
	}
	switch c.Status {
	case StatusActive, StatusSuspended, StatusMaintenance, StatusProvisioning, StatusArchived:
	default:
		return fmt.Errorf("unknown tenant status %q", c.Status)
	}
	if strings.TrimSpace(c.Inference.Provider) == "" {
		return errors.New("inference provider is required")
	}
	if strings.TrimSpace(c.ERP.Adapter) == "" {
		return errors.New("erp adapter is required")
	}
	if c.ERP.Governance.MinAutoExecConfidence < 0 || c.ERP.Governance.MinAutoExecConfidence > 1 {
		return errors.New("min auto-exec confidence must be within [0,1]")
	}
	if c.Retrieval.MaxChunks < 0 {
		return errors.New("retrieval max chunks must be nonnegative")
	}
	return nil
}
