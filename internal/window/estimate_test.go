package window

import (
	"testing"

	"github.com/everloop-ai/everloop/internal/providers"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"longer", "abcdefgh", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateMessage_ToolCalls(t *testing.T) {
	m := providers.Message{
		Role:    "assistant",
		Content: "abcd", // 1 token
		ToolCalls: []providers.ToolCall{
			{Name: "abcd", Arguments: `{"a":1}`}, // 1 + 2 tokens
		},
	}
	want := perMessageOverhead + 1 + 1 + 2
	if got := EstimateMessage(m); got != want {
		t.Errorf("EstimateMessage = %d, want %d", got, want)
	}
}

func TestClassify_Boundaries(t *testing.T) {
	const contextSize = 1000
	tests := []struct {
		name   string
		tokens int
		want   Level
	}{
		{"zero", 0, LevelNormal},
		{"just under soft", 699, LevelNormal},
		{"exactly soft", 700, LevelSoft},
		{"between soft and hard", 800, LevelSoft},
		{"exactly hard", 900, LevelHard},
		{"between hard and overflow", 1000, LevelHard},
		{"exactly overflow", 1100, LevelOverflow},
		{"past overflow", 5000, LevelOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, level := Classify(tt.tokens, contextSize)
			if level != tt.want {
				t.Errorf("Classify(%d, %d) level = %s, want %s", tt.tokens, contextSize, level, tt.want)
			}
			wantRatio := float64(tt.tokens) / contextSize
			if ratio != wantRatio {
				t.Errorf("ratio = %f, want %f", ratio, wantRatio)
			}
		})
	}
}

func TestClassify_ZeroContextSize(t *testing.T) {
	ratio, level := Classify(100, 0)
	if ratio != 0 || level != LevelNormal {
		t.Errorf("Classify with zero context = (%f, %s), want (0, normal)", ratio, level)
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{
		LevelNormal: "normal", LevelSoft: "soft", LevelHard: "hard", LevelOverflow: "overflow",
	} {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
