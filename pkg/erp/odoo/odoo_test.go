package odoo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opsdesk/pkg/config"
	"opsdesk/pkg/erp"
	"opsdesk/pkg/erp/wire"
	"opsdesk/pkg/resilience"
)

func newOdooServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))

		if strings.HasSuffix(r.URL.Path, "/common") {
			fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><params><param><value><int>5</int></value></param></params></methodResponse>`)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><params><param><value><int>314</int></value></param></params></methodResponse>`)
	}))
	return server, &bodies
}

func newAdapter(t *testing.T, server *httptest.Server) *Adapter {
	t.Helper()

	retry := resilience.NewPolicy(config.RetryConfig{MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 2})
	client, err := wire.NewClient(2*time.Second, retry, slog.Default())
	if err != nil {
		t.Fatalf("wire.NewClient() error = %v", err)
	}

	adapter, err := New(client, erp.Credentials{
		Endpoint: server.URL,
		Database: "acme",
		Login:    "svc",
		Secret:   "s3cret",
	}, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return adapter
}

func TestCreateTicketMapsScalarResult(t *testing.T) {
	t.Parallel()

	server, bodies := newOdooServer(t)
	defer server.Close()
	adapter := newAdapter(t, server)

	resp, err := adapter.CreateTicket(context.Background(), erp.TicketRequest{
		TenantID:    "t-1",
		Subject:     "Refund order 42",
		Description: "Customer requests refund.",
		Priority:    "high",
		Provenance:  map[string]string{"payload_hash": "abc123", "sanctioned_by": "admin@acme"},
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}

	if !resp.Success || resp.SyncStatus != erp.StatusSynced {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ExternalID != "314" {
		t.Fatalf("external id = %q", resp.ExternalID)
	}
	if err := resp.Validate(); err != nil {
		t.Fatalf("response fails contract: %v", err)
	}

	// Second body is the execute_kw envelope.
	if len(*bodies) != 2 {
		t.Fatalf("requests = %d, want auth + execute", len(*bodies))
	}
	envelope := (*bodies)[1]
	for _, fragment := range []string{
		"helpdesk.ticket",
		"<string>Refund order 42</string>",
		"payload_hash: abc123",
		"<string>2</string>",
	} {
		if !strings.Contains(envelope, fragment) {
			t.Fatalf("envelope missing %q:\n%s", fragment, envelope)
		}
	}
}

func TestCreateTicketDefaultsPriority(t *testing.T) {
	t.Parallel()

	server, bodies := newOdooServer(t)
	defer server.Close()
	adapter := newAdapter(t, server)

	if _, err := adapter.CreateTicket(context.Background(), erp.TicketRequest{Subject: "Question"}); err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}

	envelope := (*bodies)[1]
	if !strings.Contains(envelope, "<string>1</string>") {
		t.Fatalf("expected default priority 1 in envelope:\n%s", envelope)
	}
}

func TestCreateTicketRequiresSubject(t *testing.T) {
	t.Parallel()

	server, _ := newOdooServer(t)
	defer server.Close()
	adapter := newAdapter(t, server)

	if _, err := adapter.CreateTicket(context.Background(), erp.TicketRequest{}); err == nil {
		t.Fatal("CreateTicket() accepted empty subject")
	}
}
