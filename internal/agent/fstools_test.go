package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pocketomega/fedagent/internal/permission"
)

func newTestWorkspace(t *testing.T) (string, *permission.Gate) {
	t.Helper()
	dir := t.TempDir()
	gatePath := filepath.Join(t.TempDir(), "perms.json")
	gate, err := permission.Open(gatePath)
	if err != nil {
		t.Fatalf("permission.Open() error = %v", err)
	}
	if err := gate.AddRule(dir, permission.ScopeRecursive, true, true, true, true, 0); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	return dir, gate
}

func TestFileWriteThenRead(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	tools := fsTools(dir, gate)
	var write, read localTool
	for _, tool := range tools {
		switch tool.spec().LocalName {
		case "fs_write":
			write = tool
		case "fs_read":
			read = tool
		}
	}

	ctx := context.Background()
	if _, err := write.execute(ctx, map[string]any{"path": "note.txt", "content": "hello"}); err != nil {
		t.Fatalf("fs_write error = %v", err)
	}
	got, err := read.execute(ctx, map[string]any{"path": "note.txt"})
	if err != nil {
		t.Fatalf("fs_read error = %v", err)
	}
	if got != "hello" {
		t.Errorf("fs_read = %q, want hello", got)
	}
}

func TestFileReadDeniedWithoutRule(t *testing.T) {
	dir := t.TempDir()
	gatePath := filepath.Join(t.TempDir(), "perms.json")
	gate, err := permission.Open(gatePath)
	if err != nil {
		t.Fatalf("permission.Open() error = %v", err)
	}
	os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644)

	var read localTool
	for _, tool := range fsTools(dir, gate) {
		if tool.spec().LocalName == "fs_read" {
			read = tool
		}
	}
	if _, err := read.execute(context.Background(), map[string]any{"path": "secret.txt"}); err == nil {
		t.Error("fs_read succeeded without a permission rule, want deny")
	}
}

func TestSafeResolvePathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	if _, err := safeResolvePath("../../etc/passwd", dir); err == nil {
		t.Error("safeResolvePath(escape) = nil error, want error")
	}
}

func TestSafeResolvePathAllowsNested(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	resolved, err := safeResolvePath("sub/file.txt", dir)
	if err != nil {
		t.Fatalf("safeResolvePath() error = %v", err)
	}
	if filepath.Dir(resolved) != filepath.Join(dir, "sub") {
		t.Errorf("resolved = %q, want under %q", resolved, filepath.Join(dir, "sub"))
	}
}

func TestFileDeleteRequiresConfirm(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644)

	var del localTool
	for _, tool := range fsTools(dir, gate) {
		if tool.spec().LocalName == "fs_delete" {
			del = tool
		}
	}
	if _, err := del.execute(context.Background(), map[string]any{"path": "f.txt"}); err == nil {
		t.Error("fs_delete without confirm succeeded, want error")
	}
	if _, err := os.Stat(filepath.Join(dir, "f.txt")); err != nil {
		t.Error("file was deleted despite missing confirm")
	}
}

func TestFileDeleteWithConfirm(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644)

	var del localTool
	for _, tool := range fsTools(dir, gate) {
		if tool.spec().LocalName == "fs_delete" {
			del = tool
		}
	}
	if _, err := del.execute(context.Background(), map[string]any{"path": "f.txt", "confirm": "yes"}); err != nil {
		t.Fatalf("fs_delete error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "f.txt")); !os.IsNotExist(err) {
		t.Error("file still exists after confirmed delete")
	}
}

func TestProtectedFileRejectsWrite(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	var write localTool
	for _, tool := range fsTools(dir, gate) {
		if tool.spec().LocalName == "fs_write" {
			write = tool
		}
	}
	if _, err := write.execute(context.Background(), map[string]any{"path": "servers.yaml", "content": "evil"}); err == nil {
		t.Error("fs_write to protected file succeeded, want refusal")
	}
}
