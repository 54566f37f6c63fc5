package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pocketomega/fedagent/internal/ferrors"
	"github.com/pocketomega/fedagent/internal/mcp"
	"github.com/pocketomega/fedagent/internal/permission"
)

// localServerName is the pseudo-server under which the guarded filesystem
// tools are published in the aggregated catalog, alongside the real MCP
// servers' qualified names.
const localServerName = "local"

const (
	maxFileSize   = 1 << 20 // 1 MiB
	maxWriteSize  = 1 << 20
	maxListItems  = 100
	maxFindResult = 50
)

// localTool is implemented by every guarded filesystem tool. execute must
// perform its own permission.Gate.Check before any filesystem mutation.
type localTool interface {
	spec() mcp.ToolSpec
	execute(ctx context.Context, args map[string]any) (string, error)
}

// fsTools builds the fixed set of permission-gated filesystem tools rooted
// at workspaceDir, checked against gate before any read or mutation.
func fsTools(workspaceDir string, gate *permission.Gate) []localTool {
	return []localTool{
		&fileReadTool{workspaceDir, gate},
		&fileWriteTool{workspaceDir, gate},
		&fileListTool{workspaceDir, gate},
		&fileDeleteTool{workspaceDir, gate},
		&fileFindTool{workspaceDir, gate},
	}
}

func schema(properties map[string]any, required []string) json.RawMessage {
	obj := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	buf, _ := json.Marshal(obj)
	return buf
}

// --- fs_read ---

type fileReadTool struct {
	workspaceDir string
	gate         *permission.Gate
}

func (t *fileReadTool) spec() mcp.ToolSpec {
	return mcp.ToolSpec{
		QualifiedName: mcp.QualifyName(localServerName, "fs_read"),
		LocalName:     "fs_read",
		ServerName:    localServerName,
		Description:   "Read the contents of a file within the workspace. Files larger than 1 MiB are rejected.",
		InputSchema: schema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the workspace root"},
		}, []string{"path"}),
		Lifecycle: "persistent",
	}
}

func (t *fileReadTool) execute(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	resolved, err := safeResolvePath(rel, t.workspaceDir)
	if err != nil {
		return "", err
	}
	if _, err := t.gate.Check(resolved, permission.ActionRead); err != nil {
		return "", err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory, use fs_list", rel)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("file too large (%d bytes, limit %d)", info.Size(), maxFileSize)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return string(data), nil
}

// --- fs_write ---

type fileWriteTool struct {
	workspaceDir string
	gate         *permission.Gate
}

func (t *fileWriteTool) spec() mcp.ToolSpec {
	return mcp.ToolSpec{
		QualifiedName: mcp.QualifyName(localServerName, "fs_write"),
		LocalName:     "fs_write",
		ServerName:    localServerName,
		Description:   "Write (overwrite or create) a file within the workspace. Content larger than 1 MiB is rejected.",
		InputSchema: schema(map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		}, []string{"path", "content"}),
		Lifecycle: "persistent",
	}
}

func (t *fileWriteTool) execute(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if len(content) > maxWriteSize {
		return "", fmt.Errorf("content too large (%d bytes, limit %d)", len(content), maxWriteSize)
	}

	resolved, err := safeResolvePath(rel, t.workspaceDir)
	if err != nil {
		return "", err
	}
	if msg := checkProtectedFile(resolved, t.workspaceDir); msg != "" {
		return "", fmt.Errorf("%s", msg)
	}

	action := permission.ActionWrite
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		action = permission.ActionCreate
	}
	if _, err := t.gate.Check(resolved, action); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("mkdir parents: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), rel), nil
}

// --- fs_list ---

type fileListTool struct {
	workspaceDir string
	gate         *permission.Gate
}

func (t *fileListTool) spec() mcp.ToolSpec {
	return mcp.ToolSpec{
		QualifiedName: mcp.QualifyName(localServerName, "fs_list"),
		LocalName:     "fs_list",
		ServerName:    localServerName,
		Description:   fmt.Sprintf("List entries in a workspace directory, capped at %d entries.", maxListItems),
		InputSchema: schema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path relative to the workspace root; defaults to the root"},
		}, nil),
		Lifecycle: "persistent",
	}
}

func (t *fileListTool) execute(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	resolved, err := safeResolvePath(rel, t.workspaceDir)
	if err != nil {
		return "", err
	}
	if _, err := t.gate.Check(resolved, permission.ActionRead); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("readdir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	for i, e := range entries {
		if i >= maxListItems {
			fmt.Fprintf(&sb, "... (%d more entries omitted)\n", len(entries)-maxListItems)
			break
		}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			fmt.Fprintf(&sb, "%s\t%d bytes\n", e.Name(), info.Size())
		} else {
			fmt.Fprintf(&sb, "%s/\n", e.Name())
		}
	}
	return sb.String(), nil
}

// --- fs_delete ---

type fileDeleteTool struct {
	workspaceDir string
	gate         *permission.Gate
}

func (t *fileDeleteTool) spec() mcp.ToolSpec {
	return mcp.ToolSpec{
		QualifiedName: mcp.QualifyName(localServerName, "fs_delete"),
		LocalName:     "fs_delete",
		ServerName:    localServerName,
		Description:   `Delete a file or (with recursive=true) a directory within the workspace. Requires confirm="yes".`,
		InputSchema: schema(map[string]any{
			"path":      map[string]any{"type": "string"},
			"recursive": map[string]any{"type": "boolean"},
			"confirm":   map[string]any{"type": "string", "description": `must be exactly "yes"`},
		}, []string{"path", "confirm"}),
		Lifecycle: "persistent",
	}
}

func (t *fileDeleteTool) execute(ctx context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	confirm, _ := args["confirm"].(string)
	recursive, _ := args["recursive"].(bool)
	if confirm != "yes" {
		return "", fmt.Errorf(`delete requires confirm="yes"`)
	}

	resolved, err := safeResolvePath(rel, t.workspaceDir)
	if err != nil {
		return "", err
	}
	if msg := checkProtectedFile(resolved, t.workspaceDir); msg != "" {
		return "", fmt.Errorf("%s", msg)
	}
	if filepath.Clean(resolved) == filepath.Clean(t.workspaceDir) {
		return "", fmt.Errorf("refusing to delete the workspace root")
	}
	if _, err := t.gate.Check(resolved, permission.ActionDelete); err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		if !recursive {
			entries, _ := os.ReadDir(resolved)
			if len(entries) > 0 {
				return "", fmt.Errorf("%q is a non-empty directory; pass recursive=true to delete it", rel)
			}
		}
		if err := os.RemoveAll(resolved); err != nil {
			return "", fmt.Errorf("remove: %w", err)
		}
	} else if err := os.Remove(resolved); err != nil {
		return "", fmt.Errorf("remove: %w", err)
	}
	return fmt.Sprintf("deleted %s", rel), nil
}

// --- fs_find ---

type fileFindTool struct {
	workspaceDir string
	gate         *permission.Gate
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".idea": true, ".vscode": true,
	"vendor": true, "__pycache__": true, ".cache": true,
}

func (t *fileFindTool) spec() mcp.ToolSpec {
	return mcp.ToolSpec{
		QualifiedName: mcp.QualifyName(localServerName, "fs_find"),
		LocalName:     "fs_find",
		ServerName:    localServerName,
		Description:   fmt.Sprintf("Recursively search the workspace for file names matching a glob or substring, capped at %d results.", maxFindResult),
		InputSchema: schema(map[string]any{
			"pattern": map[string]any{"type": "string"},
		}, []string{"pattern"}),
		Lifecycle: "persistent",
	}
}

func (t *fileFindTool) execute(ctx context.Context, args map[string]any) (string, error) {
	pattern, _ := args["pattern"].(string)
	if _, err := t.gate.Check(t.workspaceDir, permission.ActionRead); err != nil {
		return "", err
	}

	var results []string
	err := filepath.WalkDir(t.workspaceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		matched := false
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matched = true
		} else if strings.Contains(d.Name(), pattern) {
			matched = true
		}
		if matched {
			rel, _ := filepath.Rel(t.workspaceDir, path)
			results = append(results, rel)
			if len(results) >= maxFindResult {
				return fmt.Errorf("limit reached")
			}
		}
		return nil
	})
	if err != nil && len(results) < maxFindResult {
		return "", fmt.Errorf("walk: %w", err)
	}
	if len(results) == 0 {
		return "no matches", nil
	}
	return strings.Join(results, "\n"), nil
}

// --- shared sandboxing helpers ---

// protectedFiles names workspace-root files that must not be mutated
// directly through the generic filesystem tools.
var protectedFiles = map[string]string{
	"servers.yaml": "the server configuration is managed by the operator, not by agent tool calls",
}

func checkProtectedFile(resolvedPath, workspaceDir string) string {
	rel, err := filepath.Rel(workspaceDir, resolvedPath)
	if err != nil || strings.Contains(rel, "..") {
		return ""
	}
	name := rel
	if runtime.GOOS == "windows" {
		name = strings.ToLower(name)
	}
	for protected, reason := range protectedFiles {
		p := protected
		if runtime.GOOS == "windows" {
			p = strings.ToLower(p)
		}
		if name == p {
			return fmt.Sprintf("refusing to modify %q directly: %s", protected, reason)
		}
	}
	return ""
}

// safeResolvePath joins a (possibly relative) path with workspaceDir and
// rejects anything that would resolve outside of it, following symlinks on
// both the workspace root and the target so a symlinked workspace or a
// symlinked target file can't be used to escape the sandbox.
func safeResolvePath(path, workspaceDir string) (string, error) {
	root, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}

	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else {
		joined = filepath.Join(root, path)
	}

	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", err
	}

	rootCompare, targetCompare := root, resolved
	if runtime.GOOS == "windows" {
		rootCompare = strings.ToLower(rootCompare)
		targetCompare = strings.ToLower(targetCompare)
	}
	if targetCompare != rootCompare && !strings.HasPrefix(targetCompare, rootCompare+string(filepath.Separator)) {
		return "", &ferrors.ExplicitDenyError{Path: joined, Action: "access", Reason: "path escapes the workspace root"}
	}
	return resolved, nil
}

// resolveExisting resolves symlinks along path; if path doesn't exist yet
// (a new file about to be written), it resolves symlinks on the nearest
// existing ancestor instead and rejoins the remaining components.
func resolveExisting(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	for {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, base), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(path), nil
		}
		base = filepath.Join(filepath.Base(dir), base)
		dir = parent
	}
}
