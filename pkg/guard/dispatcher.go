package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"opsdesk/pkg/erp"
	"opsdesk/pkg/inference"
	"opsdesk/pkg/intent"
	"opsdesk/pkg/report"
	"opsdesk/pkg/secrets"
	"opsdesk/pkg/tenant"
)

const subjectLimit = 80

// Dispatcher is the action gate. It runs once per request, and only when
// the inference step signaled an operational escalation.
type Dispatcher struct {
	registry *erp.Registry
	keyring  *secrets.Keyring
	reporter report.Reporter
	log      *slog.Logger
	now      func() time.Time
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the dispatcher clock.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher builds a dispatcher. The keyring may be nil; tenants on
// real adapters then fail containment with a configuration incident.
func NewDispatcher(registry *erp.Registry, keyring *secrets.Keyring, reporter report.Reporter, log *slog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("adapter registry is required")
	}
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	dispatcher := &Dispatcher{
		registry: registry,
		keyring:  keyring,
		reporter: reporter,
		log:      log.With("component", "guard.dispatcher"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher, nil
}

// Dispatch assesses and, depending on the verdict, executes, suspends, or
// rejects one escalated action.
//
// Sanction-hash mismatches return an error; every adapter-side failure is
// contained into a failed-retrying response instead of propagating.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.NeuralIntent, resp inference.Response, cfg tenant.Configuration, sanction *Sanction) (erp.ActionResponse, error) {
	currentHash := HashPayload(resp.Suggested)
	assessment := AssessRisk(resp, cfg.ERP.Governance, cfg.Inference.ModelTier)

	if assessment.Mitigation == MitigationWaitForHuman && sanction == nil {
		d.log.Info("Action suspended for human sanction",
			"tenant_id", cfg.ID, "intent_id", in.ID, "risk_score", assessment.Score, "reason", assessment.Reason)

		return erp.ActionResponse{
			Success:    false,
			SyncStatus: erp.StatusPendingApproval,
			MessageKey: "erp.action.pending_approval",
			GuardContext: &erp.GuardContext{
				SuspensionReason: assessment.Reason,
				RiskScore:        assessment.Score,
				SuspendedAt:      d.now(),
				IntentSnapshot:   in.Payload.Content,
				PayloadHash:      currentHash,
			},
			Metadata: map[string]string{
				"risk_level":           string(assessment.Level),
				"financial_impact_usd": fmt.Sprintf("%.4f", assessment.FinancialImpactUSD),
			},
		}, nil
	}

	if sanction != nil {
		if err := AuditSanction(*sanction, currentHash); err != nil {
			d.reporter.Report(ctx, report.Incident{
				Severity:    report.SeverityCritical,
				Code:        CodeSanctionMismatch,
				Message:     "sanctioned payload does not match executing content",
				Recoverable: false,
				Fields: map[string]string{
					"tenant_id": cfg.ID,
					"intent_id": in.ID,
					"admin_id":  sanction.AdminID,
				},
			})
			return erp.ActionResponse{}, err
		}
	}

	response, err := d.execute(ctx, in, resp, cfg, sanction, currentHash)
	if err != nil {
		d.reporter.Report(ctx, report.Incident{
			Severity:    report.SeverityHigh,
			Code:        "erp-action-failed",
			Message:     "erp action execution failed",
			Recoverable: true,
			Fields: map[string]string{
				"tenant_id": cfg.ID,
				"intent_id": in.ID,
				"adapter":   cfg.ERP.Adapter,
				"error":     err.Error(),
			},
		})

		return erp.ActionResponse{
			Success:    false,
			SyncStatus: erp.StatusFailedRetrying,
			MessageKey: "erp.action.failed_retrying",
			Metadata:   map[string]string{"adapter": cfg.ERP.Adapter},
		}, nil
	}

	return response, nil
}

// execute resolves the tenant's adapter and runs the ticket creation. Any
// error out of here is contained by Dispatch.
func (d *Dispatcher) execute(ctx context.Context, in intent.NeuralIntent, resp inference.Response, cfg tenant.Configuration, sanction *Sanction, currentHash string) (erp.ActionResponse, error) {
	adapter, err := d.resolveAdapter(cfg)
	if err != nil {
		return erp.ActionResponse{}, err
	}

	provenance := map[string]string{"payload_hash": currentHash}
	if sanction != nil {
		provenance["sanctioned_by"] = sanction.AdminID
		provenance["governance_seal"] = sanction.GovernanceSeal
	}

	request := erp.TicketRequest{
		TenantID:    cfg.ID,
		Subject:     buildSubject(in),
		Description: buildDescription(in, resp),
		Priority:    erp.DefaultPriority,
		Provenance:  provenance,
	}

	response, err := adapter.CreateTicket(ctx, request)
	if err != nil {
		return erp.ActionResponse{}, fmt.Errorf("adapter %s: %w", adapter.Name(), err)
	}
	if err := response.Validate(); err != nil {
		return erp.ActionResponse{}, fmt.Errorf("adapter %s returned invalid response: %w", adapter.Name(), err)
	}

	return response, nil
}

func (d *Dispatcher) resolveAdapter(cfg tenant.Configuration) (erp.Adapter, error) {
	adapterID := strings.TrimSpace(cfg.ERP.Adapter)
	if adapterID == erp.MockAdapterID {
		return d.registry.Resolve(adapterID, erp.Credentials{})
	}

	if d.keyring == nil {
		return nil, fmt.Errorf("%w: cannot unseal credentials for adapter %s", secrets.ErrMasterKeyMissing, adapterID)
	}
	secret, err := d.keyring.Open(cfg.ERP.Credentials)
	if err != nil {
		return nil, fmt.Errorf("unseal credentials for adapter %s: %w", adapterID, err)
	}

	return d.registry.Resolve(adapterID, erp.Credentials{
		Endpoint: cfg.ERP.Endpoint,
		Database: cfg.ERP.Database,
		Login:    cfg.ERP.Login,
		Secret:   secret,
	})
}

func buildSubject(in intent.NeuralIntent) string {
	content := strings.TrimSpace(in.Payload.Content)
	if len(content) > subjectLimit {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := subjectLimit
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut] + "…"
	}
	return "Support escalation: " + content
}

func buildDescription(in intent.NeuralIntent, resp inference.Response) string {
	var b strings.Builder
	b.WriteString("Customer request:\n")
	b.WriteString(in.Payload.Content)
	b.WriteString("\n\nSuggested resolution:\n")
	b.WriteString(resp.Suggested)
	fmt.Fprintf(&b, "\n\nChannel: %s | External user: %s", in.Channel, in.ExternalUserID)
	return b.String()
}
