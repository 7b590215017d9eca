package slackcmd

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/search"
	"github.com/sessionwatcher/watcher/internal/searchstate"
)

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

func escapeMrkdwn(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func mrkdwnSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func plainButton(text, actionID string) *slack.ButtonBlockElement {
	return slack.NewButtonBlockElement(actionID, "", slack.NewTextBlockObject(slack.PlainTextType, text, true, false))
}

// formatSearchResults renders a page of results as Block Kit blocks,
// with an overflow watch/preview menu per session and a pagination
// row at the bottom.
func formatSearchResults(results *search.Results, state *searchstate.State) []slack.Block {
	headerText := fmt.Sprintf("🔍 Found %d session", results.Total)
	if results.Total != 1 {
		headerText += "s"
	}
	if results.Query != "" {
		headerText += fmt.Sprintf(" matching %q", escapeMrkdwn(results.Query))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(headerText, 150), true, false)),
	}

	page := state.Page(pageSize)
	for i, session := range page {
		summary := "No summary"
		if session.Summary != nil {
			summary = *session.Summary
		}
		escaped := escapeMrkdwn(truncate(summary, 100))
		if len(summary) > 100 {
			escaped += "..."
		}

		sectionText := fmt.Sprintf("*📁 %s*\n%q\n📅 %s • ⏱ %s • 📄 %s",
			escapeMrkdwn(session.ProjectDisplayName),
			escaped,
			session.ModifiedAt.Format("Jan 02"),
			formatDuration(session.DurationMs()),
			formatFileSize(session.SizeBytes),
		)

		section := mrkdwnSection(sectionText)
		section.Accessory = slack.NewAccessory(&slack.OverflowBlockElement{
			Type:     slack.METOverflow,
			ActionID: fmt.Sprintf("session_menu:%d", i),
			Options: []*slack.OptionBlockObject{
				slack.NewOptionBlockObject(fmt.Sprintf("watch:%d", i), slack.NewTextBlockObject(slack.PlainTextType, "👁 Watch", true, false), nil),
				slack.NewOptionBlockObject(fmt.Sprintf("preview:%d", i), slack.NewTextBlockObject(slack.PlainTextType, "📋 Preview", true, false), nil),
			},
		})
		blocks = append(blocks, section, slack.NewDividerBlock())
	}

	currentPage := state.CurrentOffset/pageSize + 1
	totalPages := (results.Total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	var nav []slack.BlockElement
	if state.HasPrevPage() {
		nav = append(nav, plainButton("◀ Prev", "search_prev"))
	} else {
		nav = append(nav, plainButton("◀ Prev", "search_prev_disabled"))
	}
	nav = append(nav, plainButton(fmt.Sprintf("Page %d/%d", currentPage, totalPages), "search_page_indicator"))
	if state.HasNextPage(pageSize) {
		nav = append(nav, plainButton("Next ▶", "search_next"))
	} else {
		nav = append(nav, plainButton("Next ▶", "search_next_disabled"))
	}
	nav = append(nav, plainButton("🔄 Refresh", "search_refresh"))

	blocks = append(blocks, slack.NewActionBlock("search_pagination", nav...))
	return blocks
}

func formatEmptyResults(query string) []slack.Block {
	text := "🔍 No sessions found"
	if query != "" {
		text = fmt.Sprintf("🔍 No sessions found matching %q", escapeMrkdwn(query))
	}
	return []slack.Block{
		mrkdwnSection(text),
		mrkdwnSection("*Suggestions:*\n• Try broader search terms\n• Remove project filter\n• Extend date range with `--last 30d`"),
	}
}

func formatRateLimited(retryAfterSeconds int) []slack.Block {
	return []slack.Block{
		mrkdwnSection(fmt.Sprintf("⏳ Too many searches. Please wait %d seconds.", retryAfterSeconds)),
	}
}

func formatWatchConfirmation(session *indexer.SessionInfo) []slack.Block {
	summary := "No summary"
	if session.Summary != nil {
		summary = *session.Summary
	}
	text := fmt.Sprintf("✅ Now watching: %q\n📁 %s • Session events will appear in this channel",
		escapeMrkdwn(truncate(summary, 100)), escapeMrkdwn(session.ProjectDisplayName))
	return []slack.Block{mrkdwnSection(text)}
}

func formatPreview(session *indexer.SessionInfo, events []indexer.PreviewEvent) []slack.Block {
	summary := "No summary"
	if session.Summary != nil {
		summary = *session.Summary
	}
	blocks := []slack.Block{
		mrkdwnSection(fmt.Sprintf("📋 Preview: %q (showing last %d events)", escapeMrkdwn(truncate(summary, 100)), len(events))),
		slack.NewDividerBlock(),
	}

	for _, event := range events {
		switch event.Type {
		case "user":
			blocks = append(blocks, mrkdwnSection(fmt.Sprintf("👤 *User*\n%s", escapeMrkdwn(truncate(event.Text, 500)))))
		case "assistant":
			blocks = append(blocks, mrkdwnSection(fmt.Sprintf("🤖 *Assistant*\n%s", escapeMrkdwn(truncate(event.Text, 500)))))
		case "tool_call":
			blocks = append(blocks, mrkdwnSection(fmt.Sprintf("🔧 *%s* `%s`\n✓ %s",
				escapeMrkdwn(event.ToolName), escapeMrkdwn(event.Label), escapeMrkdwn(truncate(event.ResultPreview, 200)))))
		}
	}

	if durationMs := session.DurationMs(); durationMs != nil {
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("⏱ %s total", formatDuration(durationMs)), false, false)))
	}
	return blocks
}

func formatError(message string) []slack.Block {
	return []slack.Block{mrkdwnSection(fmt.Sprintf("❌ %s", escapeMrkdwn(message)))}
}
