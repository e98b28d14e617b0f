package agent

import (
	"regexp"
	"strings"
)

// Local models often emit their chain of thought inline as <think> blocks
// instead of the reasoning delta. SplitThinking moves such blocks into the
// reasoning channel so they are logged and broadcast like native reasoning,
// never spoken as the assistant.

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think(?:ing)?>(.*?)</think(?:ing)?>`)
	// A <think> opened but never closed swallows the rest of the content.
	thinkOpenRe = regexp.MustCompile(`(?s)<think(?:ing)?>(.*)$`)
)

// SplitThinking separates inline thinking blocks from assistant content.
// Content without such blocks passes through unchanged.
func SplitThinking(content string) (clean, thinking string) {
	if !strings.Contains(content, "<think") {
		return content, ""
	}

	var parts []string
	clean = thinkBlockRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := thinkBlockRe.FindStringSubmatch(m)
		if t := strings.TrimSpace(sub[1]); t != "" {
			parts = append(parts, t)
		}
		return ""
	})
	clean = thinkOpenRe.ReplaceAllStringFunc(clean, func(m string) string {
		sub := thinkOpenRe.FindStringSubmatch(m)
		if t := strings.TrimSpace(sub[1]); t != "" {
			parts = append(parts, t)
		}
		return ""
	})

	return strings.TrimSpace(clean), strings.Join(parts, "\n\n")
}
