package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"opsdesk/pkg/config"
	"opsdesk/pkg/erp"
	"opsdesk/pkg/resilience"
)

func fastRetry() *resilience.Policy {
	return resilience.NewPolicy(config.RetryConfig{MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 2})
}

type erpStub struct {
	authCalls    atomic.Int64
	executeCalls atomic.Int64
	failuresLeft atomic.Int64
	faultOnExec  bool
}

func (s *erpStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.failuresLeft.Load() > 0 {
			s.failuresLeft.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/common"):
			s.authCalls.Add(1)
			fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><params><param><value><int>7</int></value></param></params></methodResponse>`)
		case strings.HasSuffix(r.URL.Path, "/object"):
			s.executeCalls.Add(1)
			if s.faultOnExec {
				fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><fault><value><struct><member><name>faultCode</name><value><int>3</int></value></member><member><name>faultString</name><value><string>Invalid model</string></value></member></struct></value></fault></methodResponse>`)
				return
			}
			fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><params><param><value><int>1042</int></value></param></params></methodResponse>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()

	client, err := NewClient(2*time.Second, fastRetry(), slog.Default(), opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func testCreds(server *httptest.Server) erp.Credentials {
	return erp.Credentials{
		Endpoint: server.URL,
		Database: "acme",
		Login:    "svc-support",
		Secret:   "hunter2",
	}
}

func TestAuthenticateCachesSession(t *testing.T) {
	t.Parallel()

	stub := &erpStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	client := newTestClient(t)
	creds := testCreds(server)

	for i := 0; i < 3; i++ {
		uid, err := client.Authenticate(context.Background(), creds)
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if uid != 7 {
			t.Fatalf("uid = %d, want 7", uid)
		}
	}

	if got := stub.authCalls.Load(); got != 1 {
		t.Fatalf("auth calls = %d, want 1 (session cached)", got)
	}
}

func TestAuthenticateReacquiresAfterTTL(t *testing.T) {
	t.Parallel()

	stub := &erpStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	now := time.Now().UTC()
	client := newTestClient(t, WithClock(func() time.Time { return now }))
	creds := testCreds(server)

	if _, err := client.Authenticate(context.Background(), creds); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	now = now.Add(DefaultSessionTTL + time.Minute)
	if _, err := client.Authenticate(context.Background(), creds); err != nil {
		t.Fatalf("Authenticate() after TTL error = %v", err)
	}

	if got := stub.authCalls.Load(); got != 2 {
		t.Fatalf("auth calls = %d, want 2 (session expired)", got)
	}
}

func TestExecuteKwReturnsScalarResult(t *testing.T) {
	t.Parallel()

	stub := &erpStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	client := newTestClient(t)

	result, err := client.ExecuteKw(context.Background(), testCreds(server),
		"helpdesk.ticket", "create", []any{map[string]any{"name": "Refund order 42"}}, nil)
	if err != nil {
		t.Fatalf("ExecuteKw() error = %v", err)
	}
	if result != int64(1042) {
		t.Fatalf("result = %v (%T), want 1042", result, result)
	}
}

func TestTransportFailureIsRetried(t *testing.T) {
	t.Parallel()

	stub := &erpStub{}
	stub.failuresLeft.Store(1)
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	client := newTestClient(t)

	uid, err := client.Authenticate(context.Background(), testCreds(server))
	if err != nil {
		t.Fatalf("Authenticate() error = %v (transient failure should be retried)", err)
	}
	if uid != 7 {
		t.Fatalf("uid = %d", uid)
	}
}

func TestFaultIsNotRetried(t *testing.T) {
	t.Parallel()

	stub := &erpStub{faultOnExec: true}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	client := newTestClient(t)

	_, err := client.ExecuteKw(context.Background(), testCreds(server),
		"bad.model", "create", []any{}, nil)
	if err == nil {
		t.Fatal("ExecuteKw() expected fault error")
	}
	if got := stub.executeCalls.Load(); got != 1 {
		t.Fatalf("execute calls = %d, want 1 (faults are permanent)", got)
	}
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><params><param><value><boolean>0</boolean></value></param></params></methodResponse>`)
	}))
	defer server.Close()

	client := newTestClient(t)

	if _, err := client.Authenticate(context.Background(), testCreds(server)); err == nil {
		t.Fatal("Authenticate() accepted boolean false result")
	}
}
