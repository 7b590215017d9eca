package indexer

import (
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	previewTextLimit   = 500
	previewResultLimit = 200
)

// PreviewEvent is one user turn, assistant turn, or tool invocation
// extracted from a session file for a short preview.
type PreviewEvent struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	ToolName      string `json:"tool_name,omitempty"`
	Label         string `json:"label,omitempty"`
	ResultPreview string `json:"result_preview,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// ExtractPreviewEvents scans the session file at path and returns its
// most recent (at most limit) user/assistant/tool_call events, in
// chronological order, along with the total number of such events in
// the file. limit <= 0 means "no limit".
func ExtractPreviewEvents(path string, limit int) ([]PreviewEvent, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	lr := newLineReader(f, maxLineSize)
	var events []PreviewEvent
	pendingToolCall := make(map[string]int) // tool_use_id -> index in events

	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		switch gjson.Get(line, "type").String() {
		case "user":
			appendUserEvents(&events, line, pendingToolCall)
		case "assistant":
			appendAssistantEvents(&events, line, pendingToolCall)
		}
	}
	if lr.Err() != nil {
		return nil, 0, lr.Err()
	}

	total := len(events)
	if limit <= 0 || limit > total {
		limit = total
	}
	return events[total-limit:], total, nil
}

func appendUserEvents(events *[]PreviewEvent, line string, pendingToolCall map[string]int) {
	timestamp := gjson.Get(line, "timestamp").String()
	content := gjson.Get(line, "message.content")

	if content.Type == gjson.String {
		*events = append(*events, PreviewEvent{
			Type:      "user",
			Text:      truncate(content.String(), previewTextLimit),
			Timestamp: timestamp,
		})
		return
	}

	if !content.IsArray() {
		return
	}
	var texts []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			texts = append(texts, block.Get("text").String())
		case "tool_result":
			if idx, ok := pendingToolCall[block.Get("tool_use_id").String()]; ok {
				(*events)[idx].ResultPreview = truncate(toolResultText(block), previewResultLimit)
			}
		}
		return true
	})
	if len(texts) > 0 {
		*events = append(*events, PreviewEvent{
			Type:      "user",
			Text:      truncate(strings.Join(texts, "\n"), previewTextLimit),
			Timestamp: timestamp,
		})
	}
}

func appendAssistantEvents(events *[]PreviewEvent, line string, pendingToolCall map[string]int) {
	timestamp := gjson.Get(line, "timestamp").String()
	content := gjson.Get(line, "message.content")

	if content.Type == gjson.String {
		*events = append(*events, PreviewEvent{
			Type:      "assistant",
			Text:      truncate(content.String(), previewTextLimit),
			Timestamp: timestamp,
		})
		return
	}

	if !content.IsArray() {
		return
	}
	var texts []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			texts = append(texts, block.Get("text").String())
		case "tool_use":
			*events = append(*events, PreviewEvent{
				Type:      "tool_call",
				ToolName:  block.Get("name").String(),
				Label:     truncate(toolInputLabel(block.Get("input")), previewResultLimit),
				Timestamp: timestamp,
			})
			if id := block.Get("id").String(); id != "" {
				pendingToolCall[id] = len(*events) - 1
			}
		}
		return true
	})
	if len(texts) > 0 {
		*events = append(*events, PreviewEvent{
			Type:      "assistant",
			Text:      truncate(strings.Join(texts, "\n"), previewTextLimit),
			Timestamp: timestamp,
		})
	}
}

// toolInputLabel renders a tool_use block's input object as a short,
// human-readable label rather than the full raw JSON.
func toolInputLabel(input gjson.Result) string {
	if !input.IsObject() {
		return input.String()
	}
	var parts []string
	input.ForEach(func(key, value gjson.Result) bool {
		parts = append(parts, key.String()+"="+value.String())
		return len(parts) < 3
	})
	return strings.Join(parts, " ")
}

func toolResultText(block gjson.Result) string {
	content := block.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var texts []string
		content.ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "text" {
				texts = append(texts, item.Get("text").String())
			}
			return true
		})
		return strings.Join(texts, "\n")
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
