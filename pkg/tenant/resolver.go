package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"opsdesk/pkg/report"
	"opsdesk/pkg/resilience"
)

// DefaultCacheTTL is how long a resolved configuration stays fresh before
// the next resolution goes back to the store.
const DefaultCacheTTL = 5 * time.Minute

// Store reads raw tenant configuration records from the relational store.
type Store interface {
	Get(ctx context.Context, tenantID string) (Configuration, error)
}

type cacheEntry struct {
	cfg     Configuration
	expires time.Time
}

// Resolver answers tenant lookups cache-first with a store fallback.
// Expired entries are treated as misses; there is no background eviction.
type Resolver struct {
	store    Store
	retry    *resilience.Policy
	reporter report.Reporter
	log      *slog.Logger
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL overrides the configuration cache TTL.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides the resolver clock. Tests use it to step through TTL
// expiry without sleeping.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a resolver over the given store.
func NewResolver(store Store, retry *resilience.Policy, reporter report.Reporter, log *slog.Logger, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("tenant store is required")
	}
	if retry == nil {
		return nil, errors.New("retry policy is required")
	}
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	resolver := &Resolver{
		store:    store,
		retry:    retry,
		reporter: reporter,
		log:      log.With("component", "tenant.resolver"),
		ttl:      DefaultCacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(resolver)
	}

	return resolver, nil
}

// Resolve returns the tenant's validated configuration.
//
// Domain failures (ErrNotFound, ErrInactive) are returned directly; they are
// expected client errors and do not page anyone. Store failures are reported
// HIGH before being returned wrapped in ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (Configuration, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Configuration{}, fmt.Errorf("%w: empty tenant id", ErrNotFound)
	}

	if cfg, ok := r.cached(tenantID); ok {
		return cfg, nil
	}

	var cfg Configuration
	err := r.retry.Do(ctx, func() error {
		loaded, loadErr := r.store.Get(ctx, tenantID)
		if loadErr != nil {
			if errors.Is(loadErr, ErrNotFound) {
				return resilience.Permanent(loadErr)
			}
			return loadErr
		}
		cfg = loaded
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Configuration{}, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
		}
		r.reporter.Report(ctx, report.Incident{
			Severity:    report.SeverityHigh,
			Code:        "tenant-store-unreachable",
			Message:     "tenant store read failed after retries",
			Recoverable: true,
			Fields:      map[string]string{"tenant_id": tenantID, "error": err.Error()},
		})
		return Configuration{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := cfg.Validate(); err != nil {
		r.log.Warn("Tenant record failed schema validation", "tenant_id", tenantID, "error", err)
		return Configuration{}, fmt.Errorf("%w: invalid record for %s: %v", ErrNotFound, tenantID, err)
	}

	if cfg.Status != StatusActive {
		return Configuration{}, fmt.Errorf("%w: %s is %s", ErrInactive, tenantID, cfg.Status)
	}

	r.mu.Lock()
	r.cache[tenantID] = cacheEntry{cfg: cfg, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	r.log.Debug("Tenant resolved from store", "tenant_id", tenantID, "adapter", cfg.ERP.Adapter)

	return cfg, nil
}

// Invalidate drops the cached entry so the next Resolve re-reads the store.
// Administrative updates call it after persisting an edit.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, strings.TrimSpace(tenantID))
	r.mu.Unlock()
}

func (r *Resolver) cached(tenantID string) (Configuration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[tenantID]
	if !ok || !r.now().Before(entry.expires) {
		return Configuration{}, false
	}
	return entry.cfg, true
}
