package tools

import (
	"encoding/json"
	"strings"

	"github.com/titanous/json5"
)

// RepairArgs decodes model-emitted tool arguments. Models routinely produce
// slightly broken JSON: raw newlines inside strings, trailing commas,
// unquoted keys, a missing closing brace. Strict JSON is tried first, then a
// repaired form, then json5, then json5 on the repaired form. Irrecoverable
// input falls back to an empty object; this path never fails.
func RepairArgs(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}

	repaired := repairJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &args); err == nil && args != nil {
		return args
	}

	// json5 tolerates unquoted keys, single quotes, and trailing commas.
	if err := json5.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}
	if err := json5.Unmarshal([]byte(repaired), &args); err == nil && args != nil {
		return args
	}

	return map[string]interface{}{}
}

// repairJSON applies mechanical fixes: escape raw control characters inside
// string literals, close an unterminated string, drop trailing commas, and
// balance braces/brackets.
func repairJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 8)

	inString := false
	escaped := false
	var stack []byte

	for i := 0; i < len(raw); i++ {
		c := raw[i]

		if inString {
			if escaped {
				b.WriteByte(c)
				escaped = false
				continue
			}
			switch c {
			case '\\':
				b.WriteByte(c)
				escaped = true
			case '"':
				b.WriteByte(c)
				inString = false
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			b.WriteByte(c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}

	out := b.String()
	if inString {
		out += `"`
	}

	// Trailing comma before we close anything out.
	out = strings.TrimRight(out, " \t\n\r")
	out = strings.TrimSuffix(out, ",")

	// Balance whatever is still open, innermost first.
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}

	return out
}
