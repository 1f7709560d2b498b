// Package odoo implements the ERP adapter contract against an Odoo
// instance through the XML-RPC wire driver.
package odoo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"opsdesk/pkg/erp"
	"opsdesk/pkg/erp/wire"
)

const (
	adapterID   = "odoo"
	ticketModel = "helpdesk.ticket"
)

// priorityMap translates the platform priority onto Odoo's 0-3 scale.
var priorityMap = map[string]string{
	"low":    "0",
	"normal": "1",
	"high":   "2",
	"urgent": "3",
}

// Adapter creates helpdesk tickets for one tenant's Odoo instance.
type Adapter struct {
	client *wire.Client
	creds  erp.Credentials
	log    *slog.Logger
}

// New binds a wire client to one tenant's connection identity.
func New(client *wire.Client, creds erp.Credentials, log *slog.Logger) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("wire client is required")
	}
	if strings.TrimSpace(creds.Endpoint) == "" {
		return nil, errors.New("erp endpoint is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		client: client,
		creds:  creds,
		log:    log.With("component", "erp.odoo"),
	}, nil
}

func (a *Adapter) Name() string { return adapterID }

// CreateTicket creates one helpdesk ticket and maps the scalar create
// result onto the shared response contract.
func (a *Adapter) CreateTicket(ctx context.Context, req erp.TicketRequest) (erp.ActionResponse, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return erp.ActionResponse{}, errors.New("ticket subject is required")
	}

	priority, ok := priorityMap[strings.TrimSpace(req.Priority)]
	if !ok {
		priority = priorityMap[erp.DefaultPriority]
	}

	record := map[string]any{
		"name":        subject,
		"description": buildDescription(req),
		"priority":    priority,
	}

	startedAt := time.Now()
	result, err := a.client.ExecuteKw(ctx, a.creds, ticketModel, "create", []any{record}, nil)
	latency := time.Since(startedAt).Milliseconds()
	if err != nil {
		return erp.ActionResponse{}, fmt.Errorf("create ticket: %w", err)
	}

	ticketID, ok := result.(int64)
	if !ok || ticketID <= 0 {
		return erp.ActionResponse{}, fmt.Errorf("create ticket returned unexpected result %v (%T)", result, result)
	}

	a.log.Info("ERP ticket created", "tenant_id", req.TenantID, "ticket_id", ticketID, "latency_ms", latency)

	return erp.ActionResponse{
		Success:    true,
		ExternalID: strconv.FormatInt(ticketID, 10),
		SyncStatus: erp.StatusSynced,
		MessageKey: "erp.ticket.created",
		LatencyMs:  latency,
		Metadata:   map[string]string{"adapter": adapterID, "model": ticketModel},
	}, nil
}

// buildDescription folds the provenance seal into the ticket body so the
// external record stays traceable to the reviewed payload.
func buildDescription(req erp.TicketRequest) string {
	var b strings.Builder
	b.WriteString(req.Description)

	if len(req.Provenance) > 0 {
		b.WriteString("\n\n---\n")
		for _, key := range []string{"payload_hash", "sanctioned_by", "governance_seal"} {
			if value, ok := req.Provenance[key]; ok && value != "" {
				fmt.Fprintf(&b, "%s: %s\n", key, value)
			}
		}
	}
	return b.String()
}
