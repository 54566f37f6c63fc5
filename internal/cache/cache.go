// Package cache implements the ToolCache: a content-addressed, persistent
// cache of MCP tool call results keyed by (server, tool, canonical params).
package cache

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pocketomega/fedagent/internal/ferrors"
)

// errorKeywords trigger a negative-result skip on write: these substrings,
// found anywhere in a lowercased result, mark it as transient/unreliable and
// therefore not worth caching.
var errorKeywords = []string{
	"503", "429",
	"rate limit", "rate-limit", "rate_limit", "ratelimit",
	"too many requests", "too-many-requests",
	"service unavailable", "service-unavailable",
	"quota exceeded", "quota-exceeded",
	"throttled", "blocked",
}

// Cache is the ToolCache: one embedded SQLite file in WAL mode, safe for
// concurrent readers/writers across threads and processes.
type Cache struct {
	db        *sql.DB
	ttl       time.Duration // 0 means entries never expire
	whitelist map[string]bool
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithTTL sets the cache entry lifetime. Zero (the default) means entries
// never expire.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithServerWhitelist restricts caching to the named servers only; calls
// against any other server are never read from or written to the cache.
// An empty whitelist (the default) caches every server.
func WithServerWhitelist(servers []string) Option {
	return func(c *Cache) {
		if len(servers) == 0 {
			return
		}
		c.whitelist = make(map[string]bool, len(servers))
		for _, s := range servers {
			c.whitelist[s] = true
		}
	}
}

// Open creates or opens the cache database at path, enabling WAL journaling
// and NORMAL synchronous mode for safe concurrent multi-process access.
func Open(path string, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &ferrors.CacheError{Op: "open", Err: err}
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, &ferrors.CacheError{Op: "pragma journal_mode", Err: err}
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, &ferrors.CacheError{Op: "pragma synchronous", Err: err}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS cache (
	cache_key TEXT PRIMARY KEY,
	server_name TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	params TEXT NOT NULL,
	result TEXT NOT NULL,
	created_at REAL NOT NULL,
	access_count INTEGER DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_created_at ON cache(created_at);
CREATE INDEX IF NOT EXISTS idx_server_tool ON cache(server_name, tool_name);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, &ferrors.CacheError{Op: "init schema", Err: err}
	}

	c := &Cache{db: db}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// canonicalJSON serializes params with sorted keys so semantically
// identical argument maps always hash to the same cache key.
func canonicalJSON(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := json.Marshal(params[k])
		if err != nil {
			return "", err
		}
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return string(ordered), nil
}

// cacheKey derives the MD5 content-address for (server, tool, params).
func cacheKey(server, tool, canonicalParams string) string {
	sum := md5.Sum([]byte(server + ":" + tool + ":" + canonicalParams))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) allowed(server string) bool {
	if c == nil {
		return false
	}
	if len(c.whitelist) == 0 {
		return true
	}
	return c.whitelist[server]
}

// Get looks up a prior result for (server, tool, params). hit is false on
// miss, whitelist exclusion, or expiry (an expired row is deleted as a
// side effect of the lookup).
func (c *Cache) Get(ctx context.Context, server, tool string, params map[string]any) (result string, hit bool, err error) {
	if c == nil || !c.allowed(server) {
		return "", false, nil
	}

	paramsJSON, err := canonicalJSON(params)
	if err != nil {
		return "", false, &ferrors.CacheError{Op: "marshal params", Err: err}
	}
	key := cacheKey(server, tool, paramsJSON)

	var storedResult string
	var createdAt float64
	row := c.db.QueryRowContext(ctx, "SELECT result, created_at FROM cache WHERE cache_key = ?", key)
	switch err := row.Scan(&storedResult, &createdAt); {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, &ferrors.CacheError{Op: "read", Err: err}
	}

	if c.ttl > 0 {
		age := time.Since(time.Unix(int64(createdAt), 0))
		if age >= c.ttl {
			_, _ = c.db.ExecContext(ctx, "DELETE FROM cache WHERE cache_key = ?", key)
			return "", false, nil
		}
	}

	_, _ = c.db.ExecContext(ctx, "UPDATE cache SET access_count = access_count + 1 WHERE cache_key = ?", key)
	return storedResult, true, nil
}

// Put stores a tool call result, applying the cacheability policy:
// whitelist membership, non-empty result, no embedded error markers, and no
// rate-limit/transient-failure keywords. A result rejected by policy is a
// silent no-op, not an error.
func (c *Cache) Put(ctx context.Context, server, tool string, params map[string]any, result string) error {
	if c == nil || !c.allowed(server) {
		return nil
	}
	if !cacheable(result) {
		return nil
	}

	paramsJSON, err := canonicalJSON(params)
	if err != nil {
		return &ferrors.CacheError{Op: "marshal params", Err: err}
	}
	key := cacheKey(server, tool, paramsJSON)

	_, err = c.db.ExecContext(ctx, `
INSERT INTO cache (cache_key, server_name, tool_name, params, result, created_at, access_count)
VALUES (?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(cache_key) DO UPDATE SET result = excluded.result, created_at = excluded.created_at, access_count = cache.access_count + 1
`, key, server, tool, paramsJSON, result, float64(time.Now().Unix()))
	if err != nil {
		return &ferrors.CacheError{Op: "write", Err: err}
	}
	return nil
}

// cacheable applies the negative-result filter: empty results, results that
// look like structured errors, and results carrying a transient-failure
// keyword are all excluded from the cache.
func cacheable(result string) bool {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" || trimmed == "{}" || trimmed == "[]" {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}

	var obj map[string]any
	if json.Unmarshal([]byte(trimmed), &obj) == nil {
		if _, hasErr := obj["error"]; hasErr {
			return false
		}
		if v, ok := obj["success"]; ok {
			if b, ok := v.(bool); ok && !b {
				return false
			}
		}
	}
	return true
}

// Prune deletes cache entries older than the configured TTL. A no-op when
// TTL is zero (permanent cache).
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	if c == nil || c.ttl <= 0 {
		return 0, nil
	}
	cutoff := float64(time.Now().Add(-c.ttl).Unix())
	res, err := c.db.ExecContext(ctx, "DELETE FROM cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, &ferrors.CacheError{Op: "prune", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}
