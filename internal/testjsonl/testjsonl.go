// Package testjsonl provides shared JSONL fixture builders for
// session log test data, used by the indexer and search test suites.
package testjsonl

import "encoding/json"

// UserMsg builds a user message record as a JSON line.
func UserMsg(content, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"content": content,
		},
	})
}

// AssistantMsg builds an assistant message record as a JSON line.
func AssistantMsg(content any, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"content": content,
		},
	})
}

// SummaryRecord builds a summary record as a JSON line. Sessions may
// contain more than one; the indexer keeps the last one seen.
func SummaryRecord(summary string) string {
	return mustMarshal(map[string]any{
		"type":    "summary",
		"summary": summary,
	})
}

// TurnDurationRecord builds a turn_duration record carrying a single
// turn's duration in milliseconds, as a JSON line.
func TurnDurationRecord(durationMs int) string {
	return mustMarshal(map[string]any{
		"type":     "turn_duration",
		"duration": durationMs,
	})
}

// OtherTypeRecord builds a record of an arbitrary type, used to
// exercise the substring prefilter against records that merely
// mention "summary" or "turn_duration" inside unrelated fields.
func OtherTypeRecord(recordType string, fields map[string]any) string {
	m := map[string]any{"type": recordType}
	for k, v := range fields {
		m[k] = v
	}
	return mustMarshal(m)
}

// Session joins a sequence of JSON-line records (as produced by the
// builders above) into session file content, one record per line.
func Session(lines ...string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
