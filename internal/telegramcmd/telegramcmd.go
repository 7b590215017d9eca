// Package telegramcmd implements the Telegram chat surface: a
// threaded /search command and its inline-keyboard callbacks, using
// the compact "w:<i> | p:<i> | s:{n|p|r} | noop | stop" callback data
// grammar Telegram's 64-byte limit demands. Each forum topic thread
// gets its own pagination state and rate-limit bucket.
package telegramcmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sessionwatcher/watcher/internal/destinations"
	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/ratelimit"
	"github.com/sessionwatcher/watcher/internal/search"
	"github.com/sessionwatcher/watcher/internal/searchstate"
)

const (
	pageSize          = 5
	previewEventCount = 5
	allResultsLimit   = 1000
)

// Handler processes Telegram /search commands and inline-keyboard
// callbacks against a search engine, per-thread pagination state, and
// the destination manager that wires watched sessions to replay.
type Handler struct {
	Engine       *search.Engine
	States       *searchstate.Store
	Limiter      *ratelimit.Limiter
	Destinations *destinations.Manager
	Publisher    Publisher
	Logger       *log.Logger
}

// New constructs a Handler. logger defaults to log.Default() if nil.
func New(engine *search.Engine, states *searchstate.Store, limiter *ratelimit.Limiter, dest *destinations.Manager, publisher Publisher, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		Engine:       engine,
		States:       states,
		Limiter:      limiter,
		Destinations: dest,
		Publisher:    publisher,
		Logger:       logger,
	}
}

// identifier joins a chat ID and an optional forum-topic thread ID
// into the single string destinations and search state key on.
func identifier(chatID string, threadID int) string {
	if threadID == 0 {
		return chatID
	}
	return chatID + ":" + strconv.Itoa(threadID)
}

// SplitIdentifier reverses identifier, used when an identifier of
// unknown origin (e.g. a persisted destination, restored at startup)
// needs the thread ID back out to route an outgoing message. The
// split is on the rightmost ':' so chat IDs are never mistaken for a
// thread suffix.
func SplitIdentifier(id string) (chatID string, threadID int) {
	idx := strings.LastIndex(id, ":")
	if idx == -1 {
		return id, 0
	}
	if n, err := strconv.Atoi(id[idx+1:]); err == nil {
		return id[:idx], n
	}
	return id, 0
}

func rateKey(id string) string {
	return "chat-b:" + id
}

func chatKey(id string) string {
	return "telegram:" + id
}

// HandleSearch handles the /search command for one chat (and, inside
// a forum supergroup, one topic thread).
func (h *Handler) HandleSearch(ctx context.Context, query, chatIDStr string, threadID int) {
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		h.Logger.Printf("telegramcmd: invalid chat id %q", chatIDStr)
		return
	}
	id := identifier(chatIDStr, threadID)

	if rlErr := h.Limiter.Check(rateKey(id)); rlErr != nil {
		retryAfter, _ := ratelimit.IsRateLimited(rlErr)
		h.sendPlain(chatID, threadID, formatRateLimited(retryAfter))
		return
	}

	params := h.Engine.ParseQuery(query)
	params.Limit = allResultsLimit
	results, err := h.Engine.Search(params)
	if err != nil {
		h.Logger.Printf("telegramcmd: search failed: %v", err)
		h.sendPlain(chatID, threadID, formatError("An error occurred while searching."))
		return
	}

	state := &searchstate.State{
		Query:         params.Query,
		Filters:       params.Filters,
		Results:       results.Results,
		CurrentOffset: 0,
		CreatedAt:     time.Now(),
	}

	var text string
	var keyboard tgbotapi.InlineKeyboardMarkup
	var messageID int
	var sendErr error

	if results.Total == 0 {
		text, keyboard = formatEmptyResults(params.Query)
	} else {
		display := &search.Results{
			Query: params.Query, Filters: params.Filters, Sort: params.Sort,
			Total: len(state.Results), Offset: 0, Limit: pageSize, Results: state.Page(pageSize),
		}
		text, keyboard = formatSearchResults(display, state)
	}
	messageID, sendErr = h.Publisher.SendMessage(chatID, threadID, text, &keyboard)

	if sendErr != nil {
		h.Logger.Printf("telegramcmd: send failed: %v", sendErr)
		return
	}
	state.MessageID = strconv.Itoa(messageID)
	h.States.Save(chatKey(id), state)
}

func (h *Handler) sendPlain(chatID int64, threadID int, text string) {
	if _, err := h.Publisher.SendMessage(chatID, threadID, text, nil); err != nil {
		h.Logger.Printf("telegramcmd: send failed: %v", err)
	}
}

// HandleCallback dispatches one inline-keyboard callback and returns
// the short toast text to acknowledge it with, per Telegram's
// callback_query answer contract.
func (h *Handler) HandleCallback(ctx context.Context, callbackData, chatIDStr string, messageID, threadID int) string {
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return "Invalid chat"
	}

	parts := strings.SplitN(callbackData, ":", 2)
	action := parts[0]

	switch action {
	case "noop":
		return ""
	case "w":
		index, ok := parseCallbackIndex(parts)
		if !ok {
			return "Invalid index"
		}
		return h.handleWatch(ctx, chatID, chatIDStr, index, threadID)
	case "p":
		index, ok := parseCallbackIndex(parts)
		if !ok {
			return "Invalid index"
		}
		return h.handlePreview(chatID, chatIDStr, messageID, index, threadID)
	case "s":
		if len(parts) < 2 {
			return "Invalid action"
		}
		switch parts[1] {
		case "n":
			return h.handlePage(chatID, chatIDStr, messageID, threadID, pageSize)
		case "p":
			return h.handlePage(chatID, chatIDStr, messageID, threadID, -pageSize)
		case "r":
			return h.handleRefresh(chatID, chatIDStr, messageID, threadID)
		}
	case "stop":
		return h.handleStopWatching(chatIDStr, threadID)
	}
	return ""
}

func parseCallbackIndex(parts []string) (int, bool) {
	if len(parts) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[1])
	return n, err == nil
}

func (h *Handler) handleWatch(ctx context.Context, chatID int64, chatIDStr string, index, threadID int) string {
	id := identifier(chatIDStr, threadID)
	state, err := h.States.Get(chatKey(id))
	if err != nil || state == nil {
		h.sendPlain(chatID, threadID, formatExpiredState())
		return "Search expired"
	}
	session := state.SessionAt(index)
	if session == nil {
		return "Session not found"
	}

	if _, err := h.Destinations.Attach(ctx, session.SessionID, session.FilePath, destinations.KindTelegram, id); err != nil {
		h.Logger.Printf("telegramcmd: attach failed: %v", err)
		return fmt.Sprintf("Failed: %v", err)
	}

	text, keyboard := formatWatchConfirmation(session)
	if _, err := h.Publisher.SendMessage(chatID, threadID, text, &keyboard); err != nil {
		h.Logger.Printf("telegramcmd: watch confirmation failed: %v", err)
	}
	return fmt.Sprintf("Now watching: %s", session.ProjectDisplayName)
}

func (h *Handler) handlePreview(chatID int64, chatIDStr string, messageID, index, threadID int) string {
	id := identifier(chatIDStr, threadID)
	state, err := h.States.Get(chatKey(id))
	if err != nil || state == nil {
		h.sendPlain(chatID, threadID, formatExpiredState())
		return "Search expired"
	}
	session := state.SessionAt(index)
	if session == nil {
		return "Session not found"
	}

	events, _, err := indexer.ExtractPreviewEvents(session.FilePath, previewEventCount)
	if err != nil {
		h.Logger.Printf("telegramcmd: preview extraction failed: %v", err)
		events = nil
	}

	text := formatPreview(session, events)
	if err := h.Publisher.SendReply(chatID, threadID, messageID, text); err != nil {
		h.Logger.Printf("telegramcmd: preview reply failed: %v", err)
		return fmt.Sprintf("Failed: %v", err)
	}
	return "Preview sent"
}

func (h *Handler) handlePage(chatID int64, chatIDStr string, messageID, threadID, delta int) string {
	id := identifier(chatIDStr, threadID)
	key := chatKey(id)
	state, err := h.States.Get(key)
	if err != nil || state == nil {
		h.sendPlain(chatID, threadID, formatExpiredState())
		return "Search expired"
	}

	newOffset := state.CurrentOffset + delta
	if newOffset < 0 {
		newOffset = 0
	}
	state, err = h.States.UpdateOffset(key, newOffset)
	if err != nil || state == nil {
		return "Search expired"
	}

	h.updateSearchMessage(chatID, messageID, state)
	if delta > 0 {
		return "Next page"
	}
	return "Previous page"
}

func (h *Handler) handleRefresh(chatID int64, chatIDStr string, messageID, threadID int) string {
	id := identifier(chatIDStr, threadID)
	key := chatKey(id)
	state, err := h.States.Get(key)
	if err != nil || state == nil {
		h.sendPlain(chatID, threadID, formatExpiredState())
		return "Search expired"
	}

	params := h.Engine.ParseQuery(state.Query)
	params.Filters = state.Filters
	params.Limit = allResultsLimit
	results, err := h.Engine.Search(params)
	if err != nil {
		h.Logger.Printf("telegramcmd: refresh failed: %v", err)
		return "Refresh failed"
	}

	newState := &searchstate.State{
		Query:         state.Query,
		Filters:       state.Filters,
		Results:       results.Results,
		CurrentOffset: 0,
		MessageID:     strconv.Itoa(messageID),
		CreatedAt:     time.Now(),
	}
	h.States.Save(key, newState)
	h.updateSearchMessage(chatID, messageID, newState)
	return "Refreshed"
}

func (h *Handler) updateSearchMessage(chatID int64, messageID int, state *searchstate.State) {
	display := &search.Results{
		Query: state.Query, Filters: state.Filters, Sort: "recent",
		Total: len(state.Results), Offset: state.CurrentOffset, Limit: pageSize, Results: state.Page(pageSize),
	}

	var text string
	var keyboard tgbotapi.InlineKeyboardMarkup
	if display.Total == 0 {
		text, keyboard = formatEmptyResults(state.Query)
	} else {
		text, keyboard = formatSearchResults(display, state)
	}

	if err := h.Publisher.EditMessage(chatID, messageID, text, &keyboard); err != nil {
		h.Logger.Printf("telegramcmd: updating search message failed: %v", err)
	}
}

// handleStopWatching detaches every session currently watching this
// chat/thread, since the compact callback grammar carries no session
// index for the stop button.
func (h *Handler) handleStopWatching(chatIDStr string, threadID int) string {
	id := identifier(chatIDStr, threadID)
	detached, err := h.Destinations.DetachByIdentifier(destinations.KindTelegram, id)
	if err != nil {
		h.Logger.Printf("telegramcmd: stop watching failed: %v", err)
		return "Failed to stop watching"
	}
	if len(detached) == 0 {
		return "Nothing being watched"
	}
	return "Stopped watching"
}
