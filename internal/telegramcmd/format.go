package telegramcmd

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/search"
	"github.com/sessionwatcher/watcher/internal/searchstate"
)

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

func formatFileSize(sizeBytes int64) string {
	switch {
	case sizeBytes < 1024:
		return fmt.Sprintf("%d B", sizeBytes)
	case sizeBytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(sizeBytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(sizeBytes)/(1024*1024))
	}
}

func formatDuration(durationMs *int) string {
	if durationMs == nil {
		return "?"
	}
	seconds := *durationMs / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	return fmt.Sprintf("%dh %dm", hours, minutes%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// formatSearchResults renders a page of results as Markdown text plus
// an inline keyboard of watch/preview/navigation buttons.
func formatSearchResults(results *search.Results, state *searchstate.State) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder

	header := fmt.Sprintf("🔍 *Found %d session", results.Total)
	if results.Total != 1 {
		header += "s"
	}
	if results.Query != "" {
		header += fmt.Sprintf(" matching %q", escapeMarkdown(results.Query))
	}
	header += "*"
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(strings.Repeat("━", 28))
	b.WriteString("\n\n")

	page := state.Page(pageSize)
	for i, session := range page {
		summary := "No summary"
		if session.Summary != nil {
			summary = *session.Summary
		}
		escaped := escapeMarkdown(truncate(summary, 80))
		if len(summary) > 80 {
			escaped += "..."
		}

		fmt.Fprintf(&b, "*%d. 📁 %s*\n", i+1, escapeMarkdown(session.ProjectDisplayName))
		fmt.Fprintf(&b, "%q\n", escaped)
		fmt.Fprintf(&b, "📅 %s • ⏱ %s • 📄 %s\n\n",
			session.ModifiedAt.Format("Jan 02"), formatDuration(session.DurationMs()), formatFileSize(session.SizeBytes))
	}

	b.WriteString(strings.Repeat("━", 28))
	b.WriteString("\n")

	currentPage := state.CurrentOffset/pageSize + 1
	totalPages := (results.Total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	fmt.Fprintf(&b, "Page %d of %d", currentPage, totalPages)

	keyboard := buildSearchKeyboard(page, state, currentPage, totalPages)
	return b.String(), keyboard
}

func buildSearchKeyboard(page []*indexer.SessionInfo, state *searchstate.State, currentPage, totalPages int) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	if len(page) > 0 {
		var watchRow []tgbotapi.InlineKeyboardButton
		for i := range page {
			watchRow = append(watchRow, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("👁 %d", i+1), fmt.Sprintf("w:%d", i)))
		}
		rows = append(rows, watchRow)

		var previewRow []tgbotapi.InlineKeyboardButton
		for i := range page {
			previewRow = append(previewRow, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("📋 %d", i+1), fmt.Sprintf("p:%d", i)))
		}
		rows = append(rows, previewRow)
	}

	var navRow []tgbotapi.InlineKeyboardButton
	if state.HasPrevPage() {
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("◀️", "s:p"))
	} else {
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("◀️", "noop"))
	}
	navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(currentPage)+"/"+strconv.Itoa(totalPages), "noop"))
	if state.HasNextPage(pageSize) {
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("▶️", "s:n"))
	} else {
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("▶️", "noop"))
	}
	navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("🔄", "s:r"))
	rows = append(rows, navRow)

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatEmptyResults(query string) (string, tgbotapi.InlineKeyboardMarkup) {
	parts := []string{"🔍 *No sessions found*", ""}
	if query != "" {
		parts = append(parts, fmt.Sprintf("No matches for %q", escapeMarkdown(query)))
	} else {
		parts = append(parts, "No sessions found.")
	}
	parts = append(parts, "", "Try:", "• Broader search terms", "• /search -l 30d for older sessions", "• /projects to browse all")

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📂 Browse Projects", "noop")),
	)
	return strings.Join(parts, "\n"), keyboard
}

func formatRateLimited(retryAfterSeconds int) string {
	return fmt.Sprintf("⏳ Please wait %d seconds.", retryAfterSeconds)
}

func formatWatchConfirmation(session *indexer.SessionInfo) (string, tgbotapi.InlineKeyboardMarkup) {
	summary := "No summary"
	if session.Summary != nil {
		summary = *session.Summary
	}
	parts := []string{
		"✅ *Now watching*",
		fmt.Sprintf("%q", escapeMarkdown(truncate(summary, 100))),
		fmt.Sprintf("📁 %s", escapeMarkdown(session.ProjectDisplayName)),
		"",
		"Session events will appear here.",
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🛑 Stop Watching", "stop")),
	)
	return strings.Join(parts, "\n"), keyboard
}

func formatPreview(session *indexer.SessionInfo, events []indexer.PreviewEvent) string {
	summary := "No summary"
	if session.Summary != nil {
		summary = *session.Summary
	}
	parts := []string{
		fmt.Sprintf("📋 *Preview* (last %d events)", len(events)),
		fmt.Sprintf("%q", escapeMarkdown(truncate(summary, 100))),
		"",
		strings.Repeat("━", 22),
		"",
	}

	for _, event := range events {
		switch event.Type {
		case "user":
			parts = append(parts, "👤 *User*", escapeMarkdown(truncate(event.Text, 500)), "")
		case "assistant":
			parts = append(parts, "🤖 *Assistant*", escapeMarkdown(truncate(event.Text, 500)), "")
		case "tool_call":
			parts = append(parts, fmt.Sprintf("📖 *%s* `%s`", escapeMarkdown(event.ToolName), escapeMarkdown(event.Label)))
			if event.ResultPreview != "" {
				parts = append(parts, fmt.Sprintf("✓ %s", escapeMarkdown(truncate(event.ResultPreview, 200))))
			}
			parts = append(parts, "")
		}
	}

	parts = append(parts, strings.Repeat("━", 22))
	if durationMs := session.DurationMs(); durationMs != nil {
		parts = append(parts, fmt.Sprintf("⏱ %s total", formatDuration(durationMs)))
	}
	return strings.Join(parts, "\n")
}

func formatError(message string) string {
	return fmt.Sprintf("⚠️ %s", escapeMarkdown(message))
}

func formatExpiredState() string {
	return "⚠️ Search expired. Please search again."
}
