package assistant

import "strings"

// ExtractQuestion strips the leading bot mention. Text after the first '>'
// is trimmed and returned; text without '>' is returned unchanged.
func ExtractQuestion(text string) string {
	if _, after, found := strings.Cut(text, ">"); found {
		return strings.TrimSpace(after)
	}
	return text
}
