package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePreviewSession(t *testing.T, lines ...map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")

	var out []byte
	for i, l := range lines {
		b, err := json.Marshal(l)
		require.NoError(t, err)
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, b...)
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

func TestExtractPreviewEventsPlainTextTurns(t *testing.T) {
	path := writePreviewSession(t,
		map[string]any{"type": "user", "timestamp": "t1", "message": map[string]any{"content": "hello"}},
		map[string]any{"type": "assistant", "timestamp": "t2", "message": map[string]any{"content": "hi there"}},
	)

	events, total, err := ExtractPreviewEvents(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, "user", events[0].Type)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, "assistant", events[1].Type)
	assert.Equal(t, "hi there", events[1].Text)
}

func TestExtractPreviewEventsToolCallWithResult(t *testing.T) {
	path := writePreviewSession(t,
		map[string]any{"type": "user", "timestamp": "t1", "message": map[string]any{"content": "list files"}},
		map[string]any{
			"type": "assistant", "timestamp": "t2",
			"message": map[string]any{"content": []any{
				map[string]any{"type": "tool_use", "id": "tool1", "name": "ls", "input": map[string]any{"path": "."}},
			}},
		},
		map[string]any{
			"type": "user", "timestamp": "t3",
			"message": map[string]any{"content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": "tool1", "content": "a.txt\nb.txt"},
			}},
		},
	)

	events, total, err := ExtractPreviewEvents(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, "tool_call", events[1].Type)
	assert.Equal(t, "ls", events[1].ToolName)
	assert.Contains(t, events[1].Label, "path=.")
	assert.Equal(t, "a.txt\nb.txt", events[1].ResultPreview)
}

func TestExtractPreviewEventsLimitsToMostRecent(t *testing.T) {
	var lines []map[string]any
	for i := range 5 {
		lines = append(lines, map[string]any{
			"type": "user", "timestamp": "t", "message": map[string]any{"content": string(rune('a' + i))},
		})
	}
	path := writePreviewSession(t, lines...)

	events, total, err := ExtractPreviewEvents(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, events, 2)
	assert.Equal(t, "d", events[0].Text)
	assert.Equal(t, "e", events[1].Text)
}

func TestExtractPreviewEventsMissingFile(t *testing.T) {
	_, _, err := ExtractPreviewEvents("/nonexistent/path.jsonl", 5)
	assert.Error(t, err)
}

func TestExtractPreviewEventsIgnoresSummaryAndTurnDuration(t *testing.T) {
	path := writePreviewSession(t,
		map[string]any{"type": "summary", "summary": "did a thing"},
		map[string]any{"type": "turn_duration", "duration": 100},
		map[string]any{"type": "user", "timestamp": "t1", "message": map[string]any{"content": "hi"}},
	)

	events, total, err := ExtractPreviewEvents(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
}
