package agentloop

import (
	"fmt"
	"unicode/utf8"
)

// TruncationMode selects which part of an oversized observation survives.
type TruncationMode string

const (
	// TruncateHeadTail keeps the beginning and end, dropping the middle.
	TruncateHeadTail TruncationMode = "head_tail"
	// TruncateHead keeps the beginning only.
	TruncateHead TruncationMode = "head"
)

// TruncateOutput caps output at maxChars runes. A non-positive maxChars means
// no cap. The marker tells the model how much was dropped so it can narrow
// its next call.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 {
		return output
	}
	n := utf8.RuneCountInString(output)
	if n <= maxChars {
		return output
	}
	runes := []rune(output)
	removed := n - maxChars

	switch mode {
	case TruncateHead:
		return string(runes[:maxChars]) +
			fmt.Sprintf("\n[truncated: %d characters omitted; narrow the request to see more]", removed)
	default:
		head := maxChars / 2
		tail := maxChars - head
		return string(runes[:head]) +
			fmt.Sprintf("\n[truncated: %d characters omitted from the middle; narrow the request to see more]\n", removed) +
			string(runes[n-tail:])
	}
}
