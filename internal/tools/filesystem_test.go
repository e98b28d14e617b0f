package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fsExec(t *testing.T, tool *FilesystemTool, args map[string]interface{}) *Result {
	t.Helper()
	return tool.Execute(context.Background(), args)
}

func TestFilesystem_WriteReadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	tool := NewFilesystemTool(ws, true)

	res := fsExec(t, tool, map[string]interface{}{
		"operation": "write", "path": "notes/today.md", "content": "remember the milk",
	})
	if res.IsError {
		t.Fatalf("write: %q", res.ForLLM)
	}

	res = fsExec(t, tool, map[string]interface{}{"operation": "read", "path": "notes/today.md"})
	if res.IsError || res.ForLLM != "remember the milk" {
		t.Errorf("read = %q (err %v)", res.ForLLM, res.IsError)
	}
}

func TestFilesystem_Append(t *testing.T) {
	ws := t.TempDir()
	tool := NewFilesystemTool(ws, true)

	fsExec(t, tool, map[string]interface{}{"operation": "write", "path": "log.txt", "content": "a"})
	fsExec(t, tool, map[string]interface{}{"operation": "append", "path": "log.txt", "content": "b"})

	res := fsExec(t, tool, map[string]interface{}{"operation": "read", "path": "log.txt"})
	if res.ForLLM != "ab" {
		t.Errorf("after append = %q", res.ForLLM)
	}
}

func TestFilesystem_List(t *testing.T) {
	ws := t.TempDir()
	tool := NewFilesystemTool(ws, true)

	fsExec(t, tool, map[string]interface{}{"operation": "write", "path": "b.txt", "content": "x"})
	fsExec(t, tool, map[string]interface{}{"operation": "mkdir", "path": "adir"})

	res := fsExec(t, tool, map[string]interface{}{"operation": "list", "path": "."})
	if res.IsError {
		t.Fatalf("list: %q", res.ForLLM)
	}
	// Sorted, directories marked with a trailing slash.
	if res.ForLLM != "adir/\nb.txt" {
		t.Errorf("list = %q", res.ForLLM)
	}
}

func TestFilesystem_EscapeDenied(t *testing.T) {
	ws := t.TempDir()
	tool := NewFilesystemTool(ws, true)

	for _, path := range []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
	} {
		res := fsExec(t, tool, map[string]interface{}{"operation": "read", "path": path})
		if !res.IsError || !strings.Contains(res.ForLLM, "outside the workspace") {
			t.Errorf("path %q: %q (err %v)", path, res.ForLLM, res.IsError)
		}
	}
}

func TestFilesystem_SymlinkEscapeDenied(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(ws, "link")); err != nil {
		t.Skipf("symlink: %v", err)
	}
	tool := NewFilesystemTool(ws, true)

	res := fsExec(t, tool, map[string]interface{}{
		"operation": "write", "path": "link/escape.txt", "content": "x",
	})
	if !res.IsError {
		t.Errorf("symlink escape allowed: %q", res.ForLLM)
	}
}

func TestFilesystem_UnrestrictedAllowsAbsolute(t *testing.T) {
	ws := t.TempDir()
	other := t.TempDir()
	tool := NewFilesystemTool(ws, false)

	target := filepath.Join(other, "out.txt")
	res := fsExec(t, tool, map[string]interface{}{
		"operation": "write", "path": target, "content": "ok",
	})
	if res.IsError {
		t.Fatalf("unrestricted write: %q", res.ForLLM)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "ok" {
		t.Errorf("file = %q, %v", data, err)
	}
}

func TestFilesystem_DeleteRules(t *testing.T) {
	ws := t.TempDir()
	tool := NewFilesystemTool(ws, true)

	fsExec(t, tool, map[string]interface{}{"operation": "write", "path": "gone.txt", "content": "x"})
	res := fsExec(t, tool, map[string]interface{}{"operation": "delete", "path": "gone.txt"})
	if res.IsError {
		t.Fatalf("delete file: %q", res.ForLLM)
	}

	// Non-empty directories are not removable through this tool.
	fsExec(t, tool, map[string]interface{}{"operation": "write", "path": "dir/inner.txt", "content": "x"})
	res = fsExec(t, tool, map[string]interface{}{"operation": "delete", "path": "dir"})
	if !res.IsError {
		t.Error("non-empty directory deleted")
	}
}

func TestFilesystem_ReadTruncation(t *testing.T) {
	ws := t.TempDir()
	tool := NewFilesystemTool(ws, true)

	big := strings.Repeat("z", maxReadBytes+100)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(big), 0644); err != nil {
		t.Fatal(err)
	}

	res := fsExec(t, tool, map[string]interface{}{"operation": "read", "path": "big.txt"})
	if res.IsError {
		t.Fatalf("read: %q truncated", res.ForLLM[:80])
	}
	if !strings.Contains(res.ForLLM, "[Truncated:") {
		t.Error("no truncation notice on oversized file")
	}
	if len(res.ForLLM) > maxReadBytes+200 {
		t.Errorf("result length %d", len(res.ForLLM))
	}
}

func TestFilesystem_MissingArgs(t *testing.T) {
	tool := NewFilesystemTool(t.TempDir(), true)
	if res := fsExec(t, tool, map[string]interface{}{"path": "x"}); !res.IsError {
		t.Error("missing operation accepted")
	}
	if res := fsExec(t, tool, map[string]interface{}{"operation": "read"}); !res.IsError {
		t.Error("missing path accepted")
	}
	if res := fsExec(t, tool, map[string]interface{}{"operation": "teleport", "path": "x"}); !res.IsError {
		t.Error("unknown operation accepted")
	}
}
