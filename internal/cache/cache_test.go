package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	params := map[string]any{"path": "/tmp/x"}

	if err := c.Put(ctx, "srv", "read_file", params, `{"content":"hello"}`); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	result, hit, err := c.Get(ctx, "srv", "read_file", params)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !hit {
		t.Fatal("Get() hit = false, want true")
	}
	if result != `{"content":"hello"}` {
		t.Errorf("Get() result = %q", result)
	}
}

func TestGetMissWhenNeverPut(t *testing.T) {
	c := newTestCache(t)
	_, hit, err := c.Get(context.Background(), "srv", "tool", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hit {
		t.Error("Get() hit = true, want false for unseen key")
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	params := map[string]any{"b": 2, "a": 1, "c": 3}
	k1, err := canonicalJSON(params)
	if err != nil {
		t.Fatalf("canonicalJSON() error = %v", err)
	}
	k2, err := canonicalJSON(map[string]any{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("canonicalJSON() error = %v", err)
	}
	if k1 != k2 {
		t.Errorf("canonicalJSON differs by key insertion order: %q != %q", k1, k2)
	}
	if cacheKey("s", "t", k1) != cacheKey("s", "t", k2) {
		t.Error("cacheKey differs for equivalent params in different map order")
	}
}

func TestPutRejectsEmptyResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	params := map[string]any{"x": 1}

	for _, empty := range []string{"", "{}", "[]"} {
		if err := c.Put(ctx, "srv", "t", params, empty); err != nil {
			t.Fatalf("Put(%q) error = %v", empty, err)
		}
		if _, hit, _ := c.Get(ctx, "srv", "t", params); hit {
			t.Errorf("Put(%q) was cached, want rejected", empty)
		}
	}
}

func TestPutRejectsErrorResults(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	cases := []string{
		`{"error":"boom"}`,
		`{"success":false}`,
		`rate limit exceeded`,
		`Service Unavailable`,
		`429 Too Many Requests`,
	}
	for i, result := range cases {
		params := map[string]any{"i": i}
		if err := c.Put(ctx, "srv", "t", params, result); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if _, hit, _ := c.Get(ctx, "srv", "t", params); hit {
			t.Errorf("Put(%q) was cached, want rejected by transient-failure policy", result)
		}
	}
}

func TestPutAllowsSuccessfulResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	params := map[string]any{"ok": true}

	if err := c.Put(ctx, "srv", "t", params, `{"success":true,"data":"x"}`); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, hit, _ := c.Get(ctx, "srv", "t", params); !hit {
		t.Error("Put() successful result not cached")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, WithTTL(time.Nanosecond))
	ctx := context.Background()
	params := map[string]any{"x": 1}

	if err := c.Put(ctx, "srv", "t", params, `{"ok":true}`); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, hit, err := c.Get(ctx, "srv", "t", params)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hit {
		t.Error("Get() hit = true after TTL expiry, want false")
	}
}

func TestServerWhitelistExcludesOtherServers(t *testing.T) {
	c := newTestCache(t, WithServerWhitelist([]string{"allowed"}))
	ctx := context.Background()
	params := map[string]any{"x": 1}

	if err := c.Put(ctx, "other", "t", params, `{"ok":true}`); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, hit, _ := c.Get(ctx, "other", "t", params); hit {
		t.Error("Get() hit for non-whitelisted server, want miss")
	}

	if err := c.Put(ctx, "allowed", "t", params, `{"ok":true}`); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, hit, _ := c.Get(ctx, "allowed", "t", params); !hit {
		t.Error("Get() miss for whitelisted server, want hit")
	}
}
