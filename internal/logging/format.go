package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FormatEventLine renders the plain `HH:MM:SS [LEVEL] message k=v` form.
func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Fields) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case error:
		return v.Error()
	case string:
		return compactJSONString(v)
	case []byte:
		return compactJSONString(string(v))
	case fmt.Stringer:
		return v.String()
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if out, err := json.Marshal(value); err == nil {
			return string(out)
		}
	}
	return fmt.Sprintf("%v", value)
}

// compactJSONString re-encodes JSON-shaped text on a single line and leaves
// everything else unchanged.
func compactJSONString(input string) string {
	trimmed := strings.TrimSpace(input)
	if !looksLikeJSON(trimmed) {
		return input
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return input
	}
	return buf.String()
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// prettyJSON reports whether value is (or holds) a JSON object or array and
// returns it indented.
func prettyJSON(value any) (string, bool) {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(strings.TrimSpace(v))
	case []byte:
		raw = bytes.TrimSpace(v)
	case json.RawMessage:
		raw = bytes.TrimSpace(v)
	default:
		return "", false
	}
	if !looksLikeJSON(string(raw)) || !json.Valid(raw) {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}

// orderedFieldKeys sorts keys alphabetically but moves payload-like fields
// to the end so the short fields stay readable on one line.
func orderedFieldKeys(fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := isPayloadFieldKey(keys[i]), isPayloadFieldKey(keys[j])
		if pi != pj {
			return pj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "data", "envelope":
		return true
	default:
		return false
	}
}
