// Package ratelimit implements the gateway's sliding fixed-window counter
// (spec §4.3), keyed per (identity, method, resource) in the shared KV.
//
// Grounded on the pack's circuit-breaker state shape
// (C-NASIR-distributed-rate-limiter/internal/ratelimit/circuit.go) for the
// window/threshold record layout, and on
// HabrielStark-invariant/pkg/ratelimit/redis.go for the atomic
// INCR+PEXPIRE-on-first-increment idiom (internal/kv.Store.Incr
// implements that contract for both the Redis and in-memory adapters).
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riftgate/gateway/internal/domain"
	"github.com/riftgate/gateway/internal/kv"
)

// Rule keys the static rule table by method and, optionally, resource.
type Rule struct {
	Method   string
	Resource string // empty matches any resource for this method
	Limit    int
	Window   time.Duration
}

// Config tunes one Limiter instance.
type Config struct {
	Rules   []Rule
	Default Rule

	// EnableTenantRateLimits opts a second, tenant-scoped limit in for
	// "resource-intensive" operations (spec §9: configuration, not
	// policy). ResourceIntensive lists the (method, resource) pairs that
	// get the extra tenant-scoped check.
	EnableTenantRateLimits bool
	ResourceIntensive      map[string]Rule // key: "METHOD resource"
}

// Limiter is the sliding fixed-window rate limiter.
type Limiter struct {
	store  kv.Store
	cfg    Config
	logger *slog.Logger
}

// New constructs a Limiter over the given KVStore and configuration.
func New(store kv.Store, cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// resolveRule applies the lookup order (method,resource) -> (method) ->
// default.
func (l *Limiter) resolveRule(method, resource string) Rule {
	for _, r := range l.cfg.Rules {
		if r.Method == method && r.Resource == resource && resource != "" {
			return r
		}
	}
	for _, r := range l.cfg.Rules {
		if r.Method == method && r.Resource == "" {
			return r
		}
	}
	return l.cfg.Default
}

// Check evaluates the limiter for one request. On KV failure it fails
// open: limited=false, remaining=limit, and the failure is logged.
func (l *Limiter) Check(ctx context.Context, identity, method, resource string) domain.RateLimitDecision {
	rule := l.resolveRule(method, resource)
	return l.checkWithRule(ctx, "rl:"+identity+":"+method+":"+resource, rule)
}

// CheckTenant evaluates the tenant-scoped rule for a resource-intensive
// operation, when tenant rate limiting is enabled and the operation is
// listed. The second return value reports whether a tenant check applied.
func (l *Limiter) CheckTenant(ctx context.Context, tenantID, method, resource string) (domain.RateLimitDecision, bool) {
	if !l.cfg.EnableTenantRateLimits || tenantID == "" {
		return domain.RateLimitDecision{}, false
	}
	rule, ok := l.cfg.ResourceIntensive[method+" "+resource]
	if !ok {
		return domain.RateLimitDecision{}, false
	}
	d := l.checkWithRule(ctx, "rl:tenant:"+tenantID+":"+method+":"+resource, rule)
	return d, true
}

func (l *Limiter) checkWithRule(ctx context.Context, keyPrefix string, rule Rule) domain.RateLimitDecision {
	if rule.Window <= 0 {
		rule.Window = time.Minute
	}
	if rule.Limit <= 0 {
		rule.Limit = 1
	}

	now := time.Now()
	windowIndex := now.Unix() / int64(rule.Window.Seconds())
	key := fmt.Sprintf("%s:%d", keyPrefix, windowIndex)
	resetAt := (windowIndex + 1) * int64(rule.Window.Seconds())

	current, err := l.store.Incr(ctx, key, rule.Window)
	if err != nil {
		l.logger.Warn("rate limiter KV failure, failing open",
			slog.String("key", key), slog.String("error", err.Error()))
		return domain.RateLimitDecision{
			Limited:   false,
			Limit:     rule.Limit,
			Remaining: rule.Limit,
			ResetAt:   resetAt,
			Current:   0,
		}
	}

	remaining := rule.Limit - int(current)
	if remaining < 0 {
		remaining = 0
	}

	return domain.RateLimitDecision{
		Limited:   int(current) > rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Current:   int(current),
	}
}
