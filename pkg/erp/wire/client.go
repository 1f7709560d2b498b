package wire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"opsdesk/pkg/erp"
	"opsdesk/pkg/resilience"
)

// DefaultSessionTTL bounds how long an authenticated session id is reused
// before the driver re-authenticates.
const DefaultSessionTTL = time.Hour

const (
	commonPath = "/xmlrpc/2/common"
	objectPath = "/xmlrpc/2/object"
)

// ErrTransport wraps network-level failures (unreachable endpoint, non-2xx
// status). These are transient and feed the retry policy; protocol faults
// do not.
var ErrTransport = errors.New("erp transport failure")

type sessionKey struct {
	endpoint string
	database string
	login    string
}

type session struct {
	uid        int64
	acquiredAt time.Time
}

// Client executes XML-RPC calls against tenant ERP endpoints, caching one
// authenticated session per connection identity.
type Client struct {
	httpClient *http.Client
	retry      *resilience.Policy
	log        *slog.Logger
	sessionTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]session
}

// Option customizes a Client.
type Option func(*Client)

// WithSessionTTL overrides the session cache TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// WithClock overrides the client clock for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHTTPClient swaps the transport; tests point it at an httptest server.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a wire client with the given call timeout and shared
// retry policy.
func NewClient(timeout time.Duration, retry *resilience.Policy, log *slog.Logger, opts ...Option) (*Client, error) {
	if retry == nil {
		return nil, errors.New("retry policy is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		log:        log.With("component", "erp.wire"),
		sessionTTL: DefaultSessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   make(map[sessionKey]session),
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Authenticate resolves the numeric session id for a connection identity,
// reusing the cached one while it is fresh.
func (c *Client) Authenticate(ctx context.Context, creds erp.Credentials) (int64, error) {
	key := sessionKey{
		endpoint: strings.TrimRight(strings.TrimSpace(creds.Endpoint), "/"),
		database: strings.TrimSpace(creds.Database),
		login:    strings.TrimSpace(creds.Login),
	}
	if key.endpoint == "" || key.database == "" || key.login == "" {
		return 0, errors.New("endpoint, database, and login are required")
	}

	c.mu.Lock()
	cached, ok := c.sessions[key]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.acquiredAt) < c.sessionTTL {
		return cached.uid, nil
	}

	result, err := c.call(ctx, key.endpoint, commonPath, "authenticate",
		key.database, key.login, creds.Secret, map[string]any{})
	if err != nil {
		return 0, fmt.Errorf("authenticate against %s: %w", key.endpoint, err)
	}

	uid, ok := result.(int64)
	if !ok || uid <= 0 {
		// Bad credentials come back as boolean false rather than a fault.
		return 0, fmt.Errorf("authentication rejected for %s@%s", key.login, key.database)
	}

	c.mu.Lock()
	c.sessions[key] = session{uid: uid, acquiredAt: c.now()}
	c.mu.Unlock()

	c.log.Debug("ERP session acquired", "endpoint", key.endpoint, "database", key.database, "uid", uid)

	return uid, nil
}

// ExecuteKw runs one model method through the object endpoint,
// authenticating (or reusing the cached session) first.
func (c *Client) ExecuteKw(ctx context.Context, creds erp.Credentials, model, method string, args []any, kwargs map[string]any) (any, error) {
	uid, err := c.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(creds.Endpoint), "/")

	result, err := c.call(ctx, endpoint, objectPath, "execute_kw",
		creds.Database, uid, creds.Secret, model, method, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("execute %s.%s: %w", model, method, err)
	}
	return result, nil
}

// call posts one envelope under the retry policy. Transport failures are
// retried; protocol faults are permanent.
func (c *Client) call(ctx context.Context, endpoint, path, method string, params ...any) (any, error) {
	envelope, err := EncodeCall(method, params...)
	if err != nil {
		return nil, err
	}

	var result any
	err = c.retry.Do(ctx, func() error {
		value, callErr := c.post(ctx, endpoint+path, envelope)
		if callErr != nil {
			var fault *Fault
			if errors.As(callErr, &fault) {
				return resilience.Permanent(callErr)
			}
			return callErr
		}
		result = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, url string, envelope []byte) (any, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	request.Header.Set("Content-Type", "text/xml")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrTransport, response.StatusCode, url)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	return DecodeResponse(body)
}

// InvalidateSession drops the cached session for one identity; the next
// call re-authenticates.
func (c *Client) InvalidateSession(creds erp.Credentials) {
	key := sessionKey{
		endpoint: strings.TrimRight(strings.TrimSpace(creds.Endpoint), "/"),
		database: strings.TrimSpace(creds.Database),
		login:    strings.TrimSpace(creds.Login),
	}

	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()
}
