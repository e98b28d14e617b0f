// Package window owns the conversational working window: token estimation,
// context-pressure classification, and the soft/hard compaction that keeps
// the conversation bounded over an indefinite lifetime.
package window

import (
	"github.com/everloop-ai/everloop/internal/providers"
)

// perMessageOverhead approximates the per-message framing cost in tokens.
const perMessageOverhead = 4

// Pressure thresholds as ratios of the configured context size.
const (
	softThreshold     = 0.70
	hardThreshold     = 0.90
	overflowThreshold = 1.10
)

// Level classifies context pressure.
type Level int

const (
	LevelNormal Level = iota
	LevelSoft
	LevelHard
	LevelOverflow
)

func (l Level) String() string {
	switch l {
	case LevelSoft:
		return "soft"
	case LevelHard:
		return "hard"
	case LevelOverflow:
		return "overflow"
	default:
		return "normal"
	}
}

// EstimateTokens approximates the token count of text as ceil(len/4). The
// estimate is deliberately rough; actual prompt-token usage reported by the
// model supersedes it when available.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateMessage approximates one message's token cost: fixed overhead plus
// content, and for tool calls the name and arguments.
func EstimateMessage(m providers.Message) int {
	n := perMessageOverhead + EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		n += EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
	}
	return n
}

// EstimateWindow sums the estimates of every message in the window.
func EstimateWindow(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// Classify maps a token count against the context size to a pressure level.
func Classify(tokens, contextSize int) (ratio float64, level Level) {
	if contextSize <= 0 {
		return 0, LevelNormal
	}
	ratio = float64(tokens) / float64(contextSize)
	switch {
	case ratio >= overflowThreshold:
		level = LevelOverflow
	case ratio >= hardThreshold:
		level = LevelHard
	case ratio >= softThreshold:
		level = LevelSoft
	default:
		level = LevelNormal
	}
	return ratio, level
}
