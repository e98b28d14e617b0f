package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	defaultCommandTimeout = 60 * time.Second
	maxOutputBytes        = 64 * 1024
)

// Patterns denied outright regardless of configuration. These catch the
// catastrophic cases; real isolation belongs to the deployment, not a regex.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~)(\s|$)`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)+777\s+/(\s|$)`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
}

// TerminalTool runs shell commands in the workspace through `sh -c`.
type TerminalTool struct {
	workspace string
	restrict  bool
	timeout   time.Duration
}

func NewTerminalTool(workspace string, restrict bool) *TerminalTool {
	return &TerminalTool{workspace: workspace, restrict: restrict, timeout: defaultCommandTimeout}
}

func (t *TerminalTool) Name() string { return "terminal" }

func (t *TerminalTool) Description() string {
	return "Run a shell command in the workspace and return its output"
}

func (t *TerminalTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory, relative to the workspace",
			},
		},
		"required": []string{"command"},
	}
}

func (t *TerminalTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := argString(args, "command")
	if command == "" {
		return ErrorResult("command is required")
	}

	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: matches %s", pattern.String()))
		}
	}

	cwd := t.workspace
	if wd := argString(args, "working_dir"); wd != "" {
		fs := &FilesystemTool{workspace: t.workspace, restrict: t.restrict}
		resolved, err := fs.resolve(wd)
		if err != nil {
			return ErrorResult(err.Error())
		}
		cwd = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	text := strings.TrimRight(out.String(), "\n")
	if len(text) > maxOutputBytes {
		text = text[:maxOutputBytes] + fmt.Sprintf("\n[Output truncated at %d bytes]", maxOutputBytes)
	}

	if ctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, text))
	}
	if err != nil {
		if text == "" {
			return ErrorResult(fmt.Sprintf("command failed: %v", err))
		}
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, text))
	}
	if text == "" {
		return NewResult("(no output)")
	}
	return NewResult(text)
}
