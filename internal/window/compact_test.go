package window

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/everloop-ai/everloop/internal/providers"
)

func makeWindow(extra int) []providers.Message {
	msgs := []providers.Message{{Role: "system", Content: "you are an agent"}}
	for i := 0; i < extra; i++ {
		msgs = append(msgs,
			providers.Message{Role: "user", Content: fmt.Sprintf("question %d", i)},
			providers.Message{Role: "assistant", Content: strings.Repeat("a", 600)},
			providers.Message{Role: "tool", Content: strings.Repeat("x", 600), ToolCallID: fmt.Sprintf("call-%d", i)},
		)
	}
	return msgs
}

func TestSoftCompact_RewritesOldLongToolResults(t *testing.T) {
	msgs := SoftCompact(makeWindow(8)) // 25 messages, cutoff at 15

	if msgs[0].Content != "you are an agent" {
		t.Fatal("system prompt was rewritten")
	}

	// Oldest tool result (index 3) must be summarized.
	if !strings.HasPrefix(msgs[3].Content, "[Summarized tool result: ") {
		t.Errorf("old tool result not summarized: %q", msgs[3].Content[:40])
	}
	if !strings.Contains(msgs[3].Content, "(600 chars total)") {
		t.Errorf("summary missing original length: %q", msgs[3].Content)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "call-0" {
		t.Error("compaction changed role or tool call id")
	}

	// Messages within the last 10 stay whole.
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || len(last.Content) != 600 {
		t.Errorf("recent tool result was rewritten (len %d)", len(last.Content))
	}
}

// Assistant and user messages are never rewritten, however long: the agent
// keeps its own words across compaction. Deliberate policy.
func TestSoftCompact_LeavesAssistantAndUserAlone(t *testing.T) {
	msgs := SoftCompact(makeWindow(8))
	for i, m := range msgs {
		if m.Role == "assistant" && len(m.Content) != 600 {
			t.Errorf("assistant message %d rewritten (len %d)", i, len(m.Content))
		}
		if m.Role == "user" && strings.HasPrefix(m.Content, "[Summarized") {
			t.Errorf("user message %d rewritten", i)
		}
	}
}

func TestSoftCompact_Idempotent(t *testing.T) {
	once := SoftCompact(makeWindow(8))
	snapshot := append([]providers.Message(nil), once...)
	twice := SoftCompact(once)
	if !reflect.DeepEqual(snapshot, twice) {
		t.Error("second compaction changed the window")
	}
}

func TestSoftCompact_ShortToolResultsUntouched(t *testing.T) {
	msgs := []providers.Message{{Role: "system", Content: "s"}}
	for i := 0; i < 15; i++ {
		msgs = append(msgs, providers.Message{Role: "tool", Content: "short result"})
	}
	for i, m := range SoftCompact(msgs) {
		if i > 0 && m.Content != "short result" {
			t.Errorf("short tool result %d rewritten: %q", i, m.Content)
		}
	}
}

func TestHandoffSummary_Deterministic(t *testing.T) {
	w := makeWindow(5)
	a, b := HandoffSummary(w), HandoffSummary(w)
	if a != b {
		t.Error("handoff summary not deterministic")
	}
	if !strings.Contains(a, "5 assistant turns") {
		t.Errorf("summary missing turn count: %q", a)
	}
}

func TestHandoffSummary_RecentTopics(t *testing.T) {
	w := makeWindow(5)
	s := HandoffSummary(w)
	// Only the last three user topics survive.
	if strings.Contains(s, "question 0") {
		t.Errorf("summary kept stale topic: %q", s)
	}
	for _, topic := range []string{"question 2", "question 3", "question 4"} {
		if !strings.Contains(s, topic) {
			t.Errorf("summary missing topic %q: %q", topic, s)
		}
	}
}

func TestFormatHandoff(t *testing.T) {
	m := FormatHandoff("the summary")
	if m.Role != "system" {
		t.Errorf("handoff role = %q, want system", m.Role)
	}
	if m.Content != "[Session handoff]\nthe summary" {
		t.Errorf("handoff content = %q", m.Content)
	}
}

func TestSoftCompact_RuneSafeTruncation(t *testing.T) {
	// 200 three-byte runes: the 200-byte head lands mid-rune.
	msgs := []providers.Message{
		{Role: "system", Content: "s"},
		{Role: "tool", Content: strings.Repeat("世", 200), ToolCallID: "call-0"},
	}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: "filler"})
	}

	out := SoftCompact(msgs)
	if !strings.HasPrefix(out[1].Content, "[Summarized tool result: ") {
		t.Fatalf("multibyte tool result not summarized: %q", out[1].Content[:40])
	}
	if !utf8.ValidString(out[1].Content) {
		t.Errorf("summary is not valid UTF-8: %q", out[1].Content)
	}
}

func TestHandoffSummary_RuneSafeTopics(t *testing.T) {
	// The 120-byte topic cut falls inside a rune.
	w := []providers.Message{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "a" + strings.Repeat("世", 50)},
		{Role: "assistant", Content: "ok"},
	}
	s := HandoffSummary(w)
	if !utf8.ValidString(s) {
		t.Errorf("summary is not valid UTF-8: %q", s)
	}
}

func TestTruncRune(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"世界", 3, "世"},
		{"世界", 4, "世"},
		{"世界", 6, "世界"},
	}
	for _, tt := range tests {
		if got := truncRune(tt.in, tt.n); got != tt.want {
			t.Errorf("truncRune(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
