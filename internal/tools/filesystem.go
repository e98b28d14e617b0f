package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 * 1024

// FilesystemTool gives the agent file access inside its workspace. A single
// tool with an operation selector keeps the advertised schema small for
// local models with limited tool-calling ability.
type FilesystemTool struct {
	workspace string
	restrict  bool
}

// NewFilesystemTool creates a filesystem tool rooted at workspace. When
// restrict is true every path must resolve inside the workspace, symlinks
// included.
func NewFilesystemTool(workspace string, restrict bool) *FilesystemTool {
	return &FilesystemTool{workspace: workspace, restrict: restrict}
}

func (t *FilesystemTool) Name() string { return "filesystem" }

func (t *FilesystemTool) Description() string {
	return "Read, write, append, list, create directories, or delete files in the workspace"
}

func (t *FilesystemTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"read", "write", "append", "list", "mkdir", "delete"},
				"description": "What to do with the path",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path relative to the workspace (absolute paths allowed only when unrestricted)",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content for write and append operations",
			},
		},
		"required": []string{"operation", "path"},
	}
}

func (t *FilesystemTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	op := argString(args, "operation")
	path := argString(args, "path")
	if op == "" {
		return ErrorResult("operation is required")
	}
	if path == "" {
		return ErrorResult("path is required")
	}

	resolved, err := t.resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	switch op {
	case "read":
		return t.read(resolved)
	case "write":
		return t.write(resolved, argString(args, "content"), false)
	case "append":
		return t.write(resolved, argString(args, "content"), true)
	case "list":
		return t.list(resolved)
	case "mkdir":
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return ErrorResult(fmt.Sprintf("mkdir: %v", err))
		}
		return NewResult(fmt.Sprintf("Created directory %s", path))
	case "delete":
		return t.delete(resolved, path)
	default:
		return ErrorResult(fmt.Sprintf("unknown operation: %s", op))
	}
}

func (t *FilesystemTool) read(resolved string) *Result {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read: %v", err))
	}
	if len(data) > maxReadBytes {
		return NewResult(fmt.Sprintf("%s\n\n[Truncated: file is %d bytes, showing first %d]",
			string(data[:maxReadBytes]), len(data), maxReadBytes))
	}
	return NewResult(string(data))
}

func (t *FilesystemTool) write(resolved, content string, appendMode bool) *Result {
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create parent dir: %v", err))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return ErrorResult(fmt.Sprintf("open: %v", err))
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return ErrorResult(fmt.Sprintf("write: %v", err))
	}
	return NewResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), filepath.Base(resolved)))
}

func (t *FilesystemTool) list(resolved string) *Result {
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list: %v", err))
	}
	if len(entries) == 0 {
		return NewResult("(empty directory)")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return NewResult(strings.Join(names, "\n"))
}

func (t *FilesystemTool) delete(resolved, display string) *Result {
	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("delete: %v", err))
	}
	// Recursive directory deletion goes through the terminal tool on purpose;
	// here only files and empty directories are removable.
	if err := os.Remove(resolved); err != nil {
		return ErrorResult(fmt.Sprintf("delete: %v", err))
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return NewResult(fmt.Sprintf("Deleted %s %s", kind, display))
}

// resolve maps a tool-supplied path onto the host filesystem. With restrict
// on, the canonical path (symlinks resolved) must stay inside the workspace.
func (t *FilesystemTool) resolve(path string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(t.workspace, path))
	}

	if !t.restrict {
		return resolved, nil
	}

	wsReal, err := canonicalize(t.workspace)
	if err != nil {
		return "", fmt.Errorf("workspace unavailable: %w", err)
	}
	real, err := canonicalize(resolved)
	if err != nil {
		return "", err
	}
	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("access denied: %s is outside the workspace", path)
	}
	return real, nil
}

// canonicalize resolves symlinks in a path. For paths that do not exist yet
// the nearest existing ancestor is resolved and the remainder re-joined, so
// confinement checks still see through symlinked parents.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}

	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
	}
}

func isPathInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
