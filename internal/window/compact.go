package window

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/everloop-ai/everloop/internal/providers"
)

const (
	// Messages newer than this many positions from the end are never rewritten.
	softKeepRecent = 10
	// Tool results longer than this are summarized.
	softToolThreshold = 500
	// Length of the preserved head of a summarized tool result.
	softToolHead = 200

	summarizedPrefix = "[Summarized tool result: "
)

// SoftCompact rewrites the window in place and returns it. The first element
// (system prompt) is untouched; for every message except the last 10, tool
// results longer than 500 chars are replaced by a truncated summary form.
// Assistant and user messages pass through whole: the agent keeps its own
// words. Idempotent; role and ordering are preserved.
func SoftCompact(msgs []providers.Message) []providers.Message {
	if len(msgs) <= 1 {
		return msgs
	}
	cutoff := len(msgs) - softKeepRecent
	for i := 1; i < cutoff; i++ {
		m := &msgs[i]
		if m.Role != "tool" {
			continue
		}
		if len(m.Content) <= softToolThreshold {
			continue
		}
		if strings.HasPrefix(m.Content, summarizedPrefix) {
			continue // already compacted
		}
		m.Content = fmt.Sprintf("%s%s... (%d chars total)", summarizedPrefix, truncRune(m.Content, softToolHead), len(m.Content))
	}
	return msgs
}

// HandoffSummary computes a deterministic digest of the window for the
// session handoff: assistant-turn and tool-use counts plus the most recent
// user topics. The agent's durable memory is its own tool use; this summary
// only restores orientation.
func HandoffSummary(msgs []providers.Message) string {
	var assistantTurns, toolUses int
	var recentUser []string
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			assistantTurns++
			toolUses += len(m.ToolCalls)
		case "user":
			topic := strings.TrimSpace(m.Content)
			if topic == "" {
				continue
			}
			if idx := strings.IndexByte(topic, '\n'); idx > 0 {
				topic = topic[:idx]
			}
			if len(topic) > 120 {
				topic = truncRune(topic, 120) + "..."
			}
			recentUser = append(recentUser, topic)
		}
	}
	if len(recentUser) > 3 {
		recentUser = recentUser[len(recentUser)-3:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Previous session summary: %d assistant turns, %d tool uses.", assistantTurns, toolUses)
	if len(recentUser) > 0 {
		b.WriteString(" Recent topics: ")
		b.WriteString(strings.Join(recentUser, "; "))
		b.WriteString(".")
	}
	b.WriteString(" Durable state lives in the workspace and notables; consult them before acting.")
	return b.String()
}

// truncRune cuts s to at most n bytes without splitting a multibyte rune.
func truncRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// FormatHandoff renders the handoff summary as the window's second element.
func FormatHandoff(summary string) providers.Message {
	return providers.Message{
		Role:    "system",
		Content: "[Session handoff]\n" + summary,
	}
}
