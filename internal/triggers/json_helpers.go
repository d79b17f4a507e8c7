package triggers

import "encoding/json"

// extractJSONStringField reads a single top-level string field out of a
// JSON payload without requiring each connector to define its own event
// envelope struct.
func extractJSONStringField(body []byte, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
