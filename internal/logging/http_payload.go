package logging

import (
	"bytes"
	"encoding/json"
	"strings"
)

const payloadClipLimit = 2048

// FormatHTTPPayload normalizes HTTP response payloads for log output.
// JSON bodies are compacted; anything else is trimmed and clipped.
func FormatHTTPPayload(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "<empty>"
	}

	// a JSON string body carrying an encoded document: "\"{...}\""
	var quoted string
	if err := json.Unmarshal(trimmed, &quoted); err == nil {
		trimmed = []byte(strings.TrimSpace(quoted))
	}

	var buf bytes.Buffer
	if json.Valid(trimmed) && json.Compact(&buf, trimmed) == nil {
		return clip(buf.String())
	}
	return clip(string(trimmed))
}

// Redact keeps a short prefix of a credential so log lines can be correlated
// without leaking the secret.
func Redact(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "<none>"
	case len(token) <= 8:
		return "****"
	default:
		return token[:4] + "****"
	}
}

func clip(value string) string {
	if len(value) > payloadClipLimit {
		return value[:payloadClipLimit] + "..."
	}
	return value
}
