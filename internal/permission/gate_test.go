package permission

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketomega/fedagent/internal/ferrors"
)

func newTestGate(t *testing.T) (*Gate, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "permissions.json")
	g, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return g, dir
}

func TestOpenCreatesEmptyFile(t *testing.T) {
	g, _ := newTestGate(t)
	if _, err := os.Stat(g.path); err != nil {
		t.Fatalf("expected permissions file to be created, stat error: %v", err)
	}
}

func TestCheckImplicitDenyWhenNoRuleCovers(t *testing.T) {
	g, dir := newTestGate(t)
	target := filepath.Join(dir, "secret.txt")

	_, err := g.Check(target, ActionRead)
	var implicit *ferrors.ImplicitDenyError
	if !errors.As(err, &implicit) {
		t.Fatalf("Check() error = %v, want ImplicitDenyError", err)
	}
}

func TestCheckExplicitDenyForDeniedScope(t *testing.T) {
	g, dir := newTestGate(t)
	target := filepath.Join(dir, "blocked.txt")

	if err := g.AddRule(target, ScopeDenied, true, true, true, true, 0); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	_, err := g.Check(target, ActionRead)
	var explicit *ferrors.ExplicitDenyError
	if !errors.As(err, &explicit) {
		t.Fatalf("Check() error = %v, want ExplicitDenyError", err)
	}
}

func TestCheckAllowsGrantedAction(t *testing.T) {
	g, dir := newTestGate(t)
	target := filepath.Join(dir, "allowed.txt")

	if err := g.AddRule(target, ScopeRecursive, true, true, false, false, 0); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	resolved, err := g.Check(target, ActionRead)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	abs, _ := filepath.Abs(target)
	if resolved != filepath.Clean(abs) {
		t.Errorf("Check() resolved = %q, want %q", resolved, abs)
	}

	if _, err := g.Check(target, ActionDelete); err == nil {
		t.Errorf("Check(delete) = nil error, want deny (rule only grants read/write)")
	}
}

func TestCheckLongestPrefixMatch(t *testing.T) {
	g, dir := newTestGate(t)
	parent := filepath.Join(dir, "project")
	child := filepath.Join(parent, "sub")
	target := filepath.Join(child, "file.txt")
	os.MkdirAll(child, 0o755)

	if err := g.AddRule(parent, ScopeDenied, false, false, false, false, 0); err != nil {
		t.Fatalf("AddRule(parent) error = %v", err)
	}
	if err := g.AddRule(child, ScopeRecursive, true, false, false, false, 0); err != nil {
		t.Fatalf("AddRule(child) error = %v", err)
	}

	if _, err := g.Check(target, ActionRead); err != nil {
		t.Errorf("Check() error = %v, want the longer (child) rule to win and allow read", err)
	}
}

func TestCheckShallowScopeRejectsNestedPath(t *testing.T) {
	g, dir := newTestGate(t)
	root := filepath.Join(dir, "shallow")
	nested := filepath.Join(root, "a", "b.txt")
	os.MkdirAll(filepath.Join(root, "a"), 0o755)

	if err := g.AddRule(root, ScopeShallow, true, true, true, true, 0); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	if _, err := g.Check(nested, ActionRead); err == nil {
		t.Errorf("Check(nested) = nil error, want explicit deny under shallow scope")
	}
	direct := filepath.Join(root, "direct.txt")
	if _, err := g.Check(direct, ActionRead); err != nil {
		t.Errorf("Check(direct child) error = %v, want shallow scope to allow it", err)
	}
}

func TestCheckExpiredRuleIsImplicitDeny(t *testing.T) {
	g, dir := newTestGate(t)
	target := filepath.Join(dir, "temp.txt")

	if err := g.AddRule(target, ScopeRecursive, true, true, true, true, time.Nanosecond); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, err := g.Check(target, ActionRead)
	var implicit *ferrors.ImplicitDenyError
	if !errors.As(err, &implicit) {
		t.Fatalf("Check() error = %v, want ImplicitDenyError after expiry", err)
	}

	if _, _, found := g.EffectivePermission(target); found {
		t.Errorf("expired rule should have been evicted from the table")
	}
}

func TestReloadPicksUpExternalChange(t *testing.T) {
	g, dir := newTestGate(t)
	target := filepath.Join(dir, "x.txt")

	if err := g.AddRule(target, ScopeRecursive, true, true, true, true, 0); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	g2, err := Open(g.path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := g2.Check(target, ActionRead); err != nil {
		t.Errorf("second Gate instance Check() error = %v, want rule visible via shared file", err)
	}
}
