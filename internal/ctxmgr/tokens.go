package ctxmgr

import (
	"strings"

	"github.com/reagentd/reagent/internal/providers"
)

// EstimateTokens approximates the token count of a string without a
// tokenizer. CJK text tokenizes denser per character than Latin text, so the
// two script classes get separate divisors:
//
//	tokens = cjk_chars/1.5 + other_chars/4
func EstimateTokens(s string) int {
	cjk, other := 0, 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return int(float64(cjk)/1.5 + float64(other)/4)
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // unified ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // extension A
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // fullwidth forms
		return true
	}
	return false
}

// EstimateMessages sums the token estimate over a message list, counting
// content, text parts, tool call arguments and a small per-message overhead.
func EstimateMessages(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4 // role and framing overhead
		total += EstimateTokens(m.Content)
		for _, p := range m.Parts {
			if p.Type == "text" {
				total += EstimateTokens(p.Text)
			} else {
				total += 1000 // flat charge per image part
			}
		}
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
		}
	}
	return total
}

// WindowFor returns the context window size for a model name. Unknown models
// get the conservative common denominator of current mainstream models.
func WindowFor(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return 200_000
	case strings.Contains(m, "gemini"):
		return 1_000_000
	case strings.Contains(m, "gpt-4-32k"):
		return 32_768
	case strings.Contains(m, "gpt-4o"), strings.Contains(m, "gpt-4-turbo"):
		return 128_000
	case strings.Contains(m, "gpt-4"):
		return 8_192
	case strings.Contains(m, "glm"), strings.Contains(m, "deepseek"):
		return 128_000
	default:
		return 128_000
	}
}
