package pipeline

import (
	"strings"
	"unicode/utf8"

	"visionrag/types"
)

const TruncationMarker = "\n...[context truncated]"

// AssembleContext renders candidates in ranked order as heading and content
// pairs separated by blank lines.
func AssembleContext(candidates []types.Candidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		heading := c.Heading()
		if strings.TrimSpace(heading) == "" && strings.TrimSpace(c.Content) == "" {
			continue
		}
		parts = append(parts, heading+"\n"+c.Content)
	}
	return strings.Join(parts, "\n\n")
}

// TruncateContext cuts text to limit runes and appends TruncationMarker when
// anything was cut.
func TruncateContext(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return types.TruncateRunes(text, limit) + TruncationMarker
}
