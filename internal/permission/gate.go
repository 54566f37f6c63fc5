// Package permission implements the PermissionGate: a path-scoped,
// TTL-scoped, hot-reloadable filesystem permission system that mediates
// every filesystem-mutating tool call.
package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pocketomega/fedagent/internal/ferrors"
)

// Scope controls how far a rule's permission extends below its own path.
type Scope int

const (
	// ScopeDenied forbids access outright regardless of the granular bits.
	ScopeDenied Scope = iota
	// ScopeShallow permits only the rule's own path and its direct children.
	ScopeShallow
	// ScopeRecursive permits the rule's path and everything beneath it.
	ScopeRecursive
)

// Action identifies which granular permission bit a check is for.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// Rule is one permission entry: a scope plus four independent action bits,
// an optional expiry, and optional whitelist/blacklist pattern filters
// (reserved for future glob-based refinement, carried through for
// forward compatibility with the rule file format).
type Rule struct {
	Scope              Scope    `json:"scope"`
	AllowRead          bool     `json:"allow_read"`
	AllowWrite         bool     `json:"allow_write"`
	AllowCreate        bool     `json:"allow_create"`
	AllowDelete        bool     `json:"allow_delete"`
	ExpiresAt          *float64 `json:"expires_at,omitempty"`
	WhitelistPatterns  []string `json:"whitelist_patterns,omitempty"`
	BlacklistPatterns  []string `json:"blacklist_patterns,omitempty"`
}

// IsExpired reports whether the rule's TTL has elapsed. A nil ExpiresAt
// means the rule never expires.
func (r Rule) IsExpired() bool {
	if r.ExpiresAt == nil {
		return false
	}
	return float64(time.Now().UnixNano())/1e9 >= *r.ExpiresAt
}

// Gate is the PermissionGate: an in-memory table of path -> Rule, backed by
// an on-disk JSON file that is hot-reloaded whenever its mtime changes.
// Reads are lock-free aside from the map access itself; the on-disk file is
// written atomically (tmp + rename) so a hot-reload never observes a
// half-written file.
type Gate struct {
	path string

	mu        sync.Mutex
	rules     map[string]Rule // keyed by absolute, cleaned path
	lastMtime time.Time
}

// Open loads (creating if absent) the permission rule file at path.
func Open(path string) (*Gate, error) {
	g := &Gate{path: path, rules: make(map[string]Rule)}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := g.persistLocked(); err != nil {
			return nil, &ferrors.ConfigError{Path: path, Err: err}
		}
	}

	if err := g.reload(); err != nil {
		return nil, &ferrors.ConfigError{Path: path, Err: err}
	}
	g.cleanupExpired()
	return g, nil
}

// reload re-reads the rule file if its mtime has changed since the last
// load. A no-op (returns nil) when the file is unchanged.
func (g *Gate) reload() error {
	info, err := os.Stat(g.path)
	if err != nil {
		return err
	}

	g.mu.Lock()
	unchanged := info.ModTime().Equal(g.lastMtime)
	g.mu.Unlock()
	if unchanged {
		return nil
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		return err
	}

	var raw map[string]Rule
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse permissions file: %w", err)
	}

	normalized := make(map[string]Rule, len(raw))
	for p, r := range raw {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		normalized[filepath.Clean(abs)] = r
	}

	g.mu.Lock()
	g.rules = normalized
	g.lastMtime = info.ModTime()
	g.mu.Unlock()
	return nil
}

// cleanupExpired removes any already-expired rules and persists the result.
func (g *Gate) cleanupExpired() {
	g.mu.Lock()
	var expired []string
	for p, r := range g.rules {
		if r.IsExpired() {
			expired = append(expired, p)
		}
	}
	for _, p := range expired {
		delete(g.rules, p)
	}
	g.mu.Unlock()

	if len(expired) > 0 {
		_ = g.Persist()
	}
}

// Persist atomically (tmp + rename) writes the current rule table to disk.
func (g *Gate) Persist() error {
	g.mu.Lock()
	out := make(map[string]Rule, len(g.rules))
	for p, r := range g.rules {
		out[p] = r
	}
	g.mu.Unlock()
	return writeAtomic(g.path, out)
}

func (g *Gate) persistLocked() error {
	return writeAtomic(g.path, map[string]Rule{})
}

func writeAtomic(path string, data map[string]Rule) error {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AddRule installs or replaces the rule for path, with an optional TTL
// (zero means no expiry), then persists the change.
func (g *Gate) AddRule(path string, scope Scope, allowRead, allowWrite, allowCreate, allowDelete bool, ttl time.Duration) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)

	rule := Rule{Scope: scope, AllowRead: allowRead, AllowWrite: allowWrite, AllowCreate: allowCreate, AllowDelete: allowDelete}
	if ttl > 0 {
		exp := float64(time.Now().Add(ttl).UnixNano()) / 1e9
		rule.ExpiresAt = &exp
	}

	g.mu.Lock()
	g.rules[abs] = rule
	g.mu.Unlock()

	return g.Persist()
}

// RemoveRule deletes any rule for path and persists the change.
func (g *Gate) RemoveRule(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)

	g.mu.Lock()
	delete(g.rules, abs)
	g.mu.Unlock()

	return g.Persist()
}

// EffectivePermission resolves the rule governing target via exact match,
// then longest-prefix ancestor match, defaulting to an implicit
// ScopeDenied rule with no matched path when nothing covers it.
func (g *Gate) EffectivePermission(target string) (rule Rule, matchedPath string, found bool) {
	_ = g.reload()

	abs, err := filepath.Abs(target)
	if err != nil {
		return Rule{Scope: ScopeDenied}, "", false
	}
	abs = filepath.Clean(abs)

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rules[abs]; ok {
		return r, abs, true
	}

	var candidates []string
	for p := range g.rules {
		candidates = append(candidates, p)
	}
	// Longest prefix (most path components) wins; sort descending by depth.
	sort.Slice(candidates, func(i, j int) bool {
		return len(strings.Split(candidates[i], string(filepath.Separator))) >
			len(strings.Split(candidates[j], string(filepath.Separator)))
	})

	for _, p := range candidates {
		if isWithin(abs, p) {
			return g.rules[p], p, true
		}
	}

	return Rule{Scope: ScopeDenied}, "", false
}

// isWithin reports whether target is p itself or lies somewhere beneath it.
func isWithin(target, p string) bool {
	if target == p {
		return true
	}
	rel, err := filepath.Rel(p, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Check validates whether action is permitted against target, applying the
// full eight-step resolution: reload, expiry check (with rule eviction on
// expiry), implicit deny when no rule covers the path, explicit deny for
// ScopeDenied, shallow-scope boundary enforcement, and finally the
// per-action allow bit.
//
// Returns the resolved absolute path on success; on failure returns an
// *ferrors.ImplicitDenyError or *ferrors.ExplicitDenyError.
func (g *Gate) Check(target string, action Action) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	abs = filepath.Clean(abs)

	rule, matchedPath, found := g.EffectivePermission(abs)

	if found && rule.IsExpired() {
		g.mu.Lock()
		delete(g.rules, matchedPath)
		g.mu.Unlock()
		_ = g.Persist()
		return "", &ferrors.ImplicitDenyError{Path: abs, Action: string(action)}
	}

	if !found {
		return "", &ferrors.ImplicitDenyError{Path: abs, Action: string(action)}
	}

	if rule.Scope == ScopeDenied {
		return "", &ferrors.ExplicitDenyError{Path: abs, Action: string(action), Reason: fmt.Sprintf("scope DENIED at %s", matchedPath)}
	}

	if rule.Scope == ScopeShallow {
		isSelf := abs == matchedPath
		isDirectChild := filepath.Dir(abs) == matchedPath
		if !isSelf && !isDirectChild {
			return "", &ferrors.ExplicitDenyError{Path: abs, Action: string(action), Reason: fmt.Sprintf("shallow scope at %s does not cover nested path", matchedPath)}
		}
	}

	var allowed bool
	switch action {
	case ActionRead:
		allowed = rule.AllowRead
	case ActionWrite:
		allowed = rule.AllowWrite
	case ActionCreate:
		allowed = rule.AllowCreate
	case ActionDelete:
		allowed = rule.AllowDelete
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
	if !allowed {
		return "", &ferrors.ExplicitDenyError{Path: abs, Action: string(action), Reason: fmt.Sprintf("rule at %s does not grant %s", matchedPath, action)}
	}

	return abs, nil
}
