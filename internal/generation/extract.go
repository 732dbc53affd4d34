package generation

import "strings"

// ExtractCode returns the first fenced code block of a model reply, or the
// trimmed reply when it has no fence. The fence's language tag is dropped.
func ExtractCode(reply string) string {
	start := strings.Index(reply, "```")
	if start < 0 {
		return strings.TrimSpace(reply)
	}
	body := reply[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return strings.TrimSpace(reply)
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
