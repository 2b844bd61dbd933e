package highlights

import (
	"math"
	"regexp"
	"strings"
)

var (
	reNum     = regexp.MustCompile(`\b\d+(?:[\.,]\d+)?\b`)
	reHook    = regexp.MustCompile(`(?i)\b(important|key|secret|mistake|never|always|here\s+is\s+why|remember|finally)\b`)
	reHow     = regexp.MustCompile(`(?i)\b(how\s+to|step\s+\d+|first|second|third|do\s+this)\b`)
	reStepNum = regexp.MustCompile(`(?i)\bstep\s+\d+\b`)
)

// Score returns (info, hook) in range [0..10].
func Score(text string) (float64, float64) {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0, 0
	}
	lower := strings.ToLower(t)

	info := float64(len(reNum.FindAllStringIndex(t, -1))) * 0.4
	if reHow.MatchString(lower) {
		info += 1.2
	}
	// small length penalty
	info -= 0.0006 * float64(len([]rune(t)))

	hook := float64(len(reHook.FindAllStringIndex(lower, -1))) * 0.9
	hook += float64(len(reStepNum.FindAllStringIndex(lower, -1))) * 0.4
	hook += float64(strings.Count(t, "?")) * 0.7
	hook += float64(strings.Count(t, "!")) * 0.3

	return clamp(info, 0, 10), clamp(hook, 0, 10)
}

// Priority maps a phrase to the 1..10 caption priority scale.
// Unscored text lands at 5, the same weight full-transcript captions get.
func Priority(text string) int {
	if strings.TrimSpace(text) == "" {
		return 1
	}
	info, hook := Score(text)
	return int(clamp(math.Round(5+1.5*(info+hook)), 1, 10))
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
