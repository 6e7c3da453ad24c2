package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riftgate/gateway/internal/kv"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	store := kv.NewMemoryStore()
	l := New(store, Config{Default: Rule{Limit: 3, Window: time.Minute}}, nil)
	ctx := context.Background()

	var limitedCount int
	for i := 0; i < 5; i++ {
		d := l.Check(ctx, "id-1", "GET", "items")
		if d.Limited {
			limitedCount++
		}
	}
	if limitedCount != 2 {
		t.Fatalf("want 2 limited out of 5 requests against limit 3, got %d", limitedCount)
	}
}

func TestLimiterRemainingNeverNegative(t *testing.T) {
	store := kv.NewMemoryStore()
	l := New(store, Config{Default: Rule{Limit: 1, Window: time.Minute}}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Check(ctx, "id-1", "GET", "items")
		if d.Remaining < 0 {
			t.Fatalf("remaining went negative: %d", d.Remaining)
		}
		if (d.Current > d.Limit) != d.Limited {
			t.Fatalf("current>limit must equal limited: current=%d limit=%d limited=%v", d.Current, d.Limit, d.Limited)
		}
	}
}

func TestLimiterRuleResolutionOrder(t *testing.T) {
	store := kv.NewMemoryStore()
	cfg := Config{
		Rules: []Rule{
			{Method: "POST", Resource: "items", Limit: 1, Window: time.Minute},
			{Method: "POST", Limit: 100, Window: time.Minute},
		},
		Default: Rule{Limit: 1000, Window: time.Minute},
	}
	l := New(store, cfg, nil)
	ctx := context.Background()

	d := l.Check(ctx, "id", "POST", "items")
	if d.Limit != 1 {
		t.Fatalf("expected method+resource rule (limit 1), got %d", d.Limit)
	}
	d2 := l.Check(ctx, "id", "POST", "categories")
	if d2.Limit != 100 {
		t.Fatalf("expected method-only rule (limit 100), got %d", d2.Limit)
	}
	d3 := l.Check(ctx, "id", "DELETE", "items")
	if d3.Limit != 1000 {
		t.Fatalf("expected default rule (limit 1000), got %d", d3.Limit)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (failingStore) Set(context.Context, string, string, time.Duration) error { return nil }
func (failingStore) Del(context.Context, string) error                       { return nil }
func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("kv unavailable")
}

func TestLimiterFailsOpenOnKVError(t *testing.T) {
	l := New(failingStore{}, Config{Default: Rule{Limit: 5, Window: time.Minute}}, nil)
	d := l.Check(context.Background(), "id", "GET", "items")
	if d.Limited {
		t.Fatalf("expected fail-open (limited=false) on KV error")
	}
	if d.Remaining != d.Limit {
		t.Fatalf("expected remaining=limit on fail-open, got remaining=%d limit=%d", d.Remaining, d.Limit)
	}
}

func TestTenantCheckOptIn(t *testing.T) {
	store := kv.NewMemoryStore()
	cfg := Config{
		Default:                Rule{Limit: 1000, Window: time.Minute},
		EnableTenantRateLimits: true,
		ResourceIntensive: map[string]Rule{
			"POST statistics": {Limit: 2, Window: time.Minute},
		},
	}
	l := New(store, cfg, nil)
	ctx := context.Background()

	_, applied := l.CheckTenant(ctx, "tenant-1", "GET", "items")
	if applied {
		t.Fatalf("expected no tenant check for non-resource-intensive op")
	}

	d, applied := l.CheckTenant(ctx, "tenant-1", "POST", "statistics")
	if !applied {
		t.Fatalf("expected tenant check to apply for configured resource-intensive op")
	}
	if d.Limit != 2 {
		t.Fatalf("want limit 2, got %d", d.Limit)
	}
}
