// Package resilience carries the shared retry policy applied to every
// outbound infrastructure call (tenant store reads, ERP transport, auth).
// Domain rejections are marked permanent and never retried.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"opsdesk/pkg/config"
)

// Policy is a bounded exponential backoff profile. The zero value is not
// usable; build one with NewPolicy.
type Policy struct {
	maxAttempts uint
	initial     time.Duration
	max         time.Duration
}

// NewPolicy builds a retry policy from config, falling back to the
// package defaults for unset values.
func NewPolicy(cfg config.RetryConfig) *Policy {
	policy := &Policy{
		maxAttempts: 3,
		initial:     200 * time.Millisecond,
		max:         5 * time.Second,
	}

	if cfg.MaxAttempts > 0 {
		policy.maxAttempts = uint(cfg.MaxAttempts)
	}
	if cfg.InitialBackoffMs > 0 {
		policy.initial = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		policy.max = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}

	return policy
}

// Do runs op under the policy. Retries stop on success, on a permanent
// error, when the attempt cap is reached, or when ctx is canceled;
// cancellation aborts in-flight backoff waits.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.initial
	expo.MaxInterval = p.max

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(p.maxAttempts))

	return err
}

// Permanent marks err as a domain rejection that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
