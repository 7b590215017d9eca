// Package slackcmd implements the Slack chat surface: a per-channel,
// non-threaded /search command and its Block Kit button interactions
// (watch, preview, pagination), rate-limited per user.
package slackcmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

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

// CommandResponse is the synchronous reply to a slash command, sent
// within Slack's three-second ack window. A nil response means "200
// OK, results follow asynchronously via response_url".
type CommandResponse struct {
	ResponseType string // "ephemeral" or "in_channel"
	Blocks       []slack.Block
	Text         string
}

// Interaction carries the fields of a Slack block_actions payload
// that handlers need, independent of Slack's raw JSON shape.
type Interaction struct {
	ChannelID   string
	UserID      string
	MessageTS   string
	ResponseURL string
}

// Handler processes Slack /search commands and button interactions
// against a search engine, per-chat pagination state, and the
// destination manager that wires watched sessions to replay.
type Handler struct {
	Engine       *search.Engine
	States       *searchstate.Store
	Limiter      *ratelimit.Limiter
	Destinations *destinations.Manager
	Publisher    Publisher
	Logger       *log.Logger

	// PostWebhook posts a response_url payload. Overridable so tests
	// don't need a live HTTP endpoint.
	PostWebhook func(ctx context.Context, url string, msg *slack.WebhookMessage) error
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
		PostWebhook:  defaultPostWebhook,
	}
}

func rateKey(userID string) string {
	return "chat-a:" + userID
}

func chatKey(channelID string) string {
	return "slack:" + channelID
}

// HandleSearch handles the /search slash command. It returns a
// non-nil CommandResponse only when the caller is rate limited;
// otherwise it launches the search in the background and the caller
// should ack with a bare 200.
func (h *Handler) HandleSearch(ctx context.Context, text, userID, channelID, responseURL string) *CommandResponse {
	if err := h.Limiter.Check(rateKey(userID)); err != nil {
		retryAfter, _ := ratelimit.IsRateLimited(err)
		return &CommandResponse{
			ResponseType: "ephemeral",
			Blocks:       formatRateLimited(retryAfter),
			Text:         fmt.Sprintf("Too many searches. Please wait %d seconds.", retryAfter),
		}
	}

	go h.processSearch(context.Background(), text, channelID, responseURL)
	return nil
}

func (h *Handler) processSearch(ctx context.Context, queryText, channelID, responseURL string) {
	params := h.Engine.ParseQuery(queryText)
	params.Limit = allResultsLimit
	results, err := h.Engine.Search(params)
	if err != nil {
		h.Logger.Printf("slackcmd: search failed: %v", err)
		h.postResponseURL(ctx, responseURL, "ephemeral", formatError("An error occurred while searching."), "An error occurred while searching.")
		return
	}

	state := &searchstate.State{
		Query:         params.Query,
		Filters:       params.Filters,
		Results:       results.Results,
		CurrentOffset: 0,
		CreatedAt:     time.Now(),
	}

	var blocks []slack.Block
	var fallback string
	if results.Total == 0 {
		blocks = formatEmptyResults(params.Query)
		fallback = fmt.Sprintf("No sessions found matching %q", params.Query)
	} else {
		blocks = formatSearchResults(results, state)
		fallback = fmt.Sprintf("Found %d sessions matching %q", results.Total, params.Query)
	}

	if err := h.postResponseURL(ctx, responseURL, "in_channel", blocks, fallback); err != nil {
		h.Logger.Printf("slackcmd: posting search results failed: %v", err)
		return
	}
	h.States.Save(chatKey(channelID), state)
}

func (h *Handler) postResponseURL(ctx context.Context, responseURL, responseType string, blocks []slack.Block, fallback string) error {
	msg := &slack.WebhookMessage{
		Text: fallback,
		Blocks: &slack.Blocks{
			BlockSet: blocks,
		},
	}
	if responseType == "ephemeral" {
		msg.ResponseType = "ephemeral"
	} else {
		msg.ResponseType = "in_channel"
	}
	return h.PostWebhook(ctx, responseURL, msg)
}

func (h *Handler) respondEphemeral(ctx context.Context, responseURL, message string) {
	if responseURL == "" {
		return
	}
	if err := h.postResponseURL(ctx, responseURL, "ephemeral", formatError(message), message); err != nil {
		h.Logger.Printf("slackcmd: ephemeral response failed: %v", err)
	}
}

// HandleOverflowSelection handles a "session_menu:N" overflow menu
// selection, whose value is "watch:N" or "preview:N".
func (h *Handler) HandleOverflowSelection(ctx context.Context, value string, in Interaction) {
	switch {
	case strings.HasPrefix(value, "watch:"):
		h.handleWatch(ctx, value, in)
	case strings.HasPrefix(value, "preview:"):
		h.handlePreview(ctx, value, in)
	}
}

func parseIndex(value, prefix string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(value, prefix))
	return n, err == nil
}

func (h *Handler) handleWatch(ctx context.Context, value string, in Interaction) {
	index, ok := parseIndex(value, "watch:")
	if !ok {
		h.Logger.Printf("slackcmd: invalid watch value %q", value)
		return
	}

	key := chatKey(in.ChannelID)
	state, err := h.States.Get(key)
	if err != nil || state == nil {
		h.respondEphemeral(ctx, in.ResponseURL, "Search results expired. Please search again.")
		return
	}
	session := state.SessionAt(index)
	if session == nil {
		h.respondEphemeral(ctx, in.ResponseURL, "Session not found.")
		return
	}

	if _, err := h.Destinations.Attach(ctx, session.SessionID, session.FilePath, destinations.KindSlack, in.ChannelID); err != nil {
		h.Logger.Printf("slackcmd: attach failed: %v", err)
		h.respondEphemeral(ctx, in.ResponseURL, fmt.Sprintf("Failed to attach session: %v", err))
		return
	}

	blocks := formatWatchConfirmation(session)
	summary := "No summary"
	if session.Summary != nil {
		summary = *session.Summary
	}
	if _, err := h.Publisher.SendMessage(ctx, in.ChannelID, fmt.Sprintf("Now watching: %q", summary), blocks); err != nil {
		h.Logger.Printf("slackcmd: watch confirmation failed: %v", err)
	}
}

func (h *Handler) handlePreview(ctx context.Context, value string, in Interaction) {
	index, ok := parseIndex(value, "preview:")
	if !ok {
		h.Logger.Printf("slackcmd: invalid preview value %q", value)
		return
	}

	key := chatKey(in.ChannelID)
	state, err := h.States.Get(key)
	if err != nil || state == nil {
		h.respondEphemeral(ctx, in.ResponseURL, "Search results expired. Please search again.")
		return
	}
	session := state.SessionAt(index)
	if session == nil {
		h.respondEphemeral(ctx, in.ResponseURL, "Session not found.")
		return
	}

	events, _, err := indexer.ExtractPreviewEvents(session.FilePath, previewEventCount)
	if err != nil {
		h.Logger.Printf("slackcmd: preview extraction failed: %v", err)
		events = nil
	}

	blocks := formatPreview(session, events)
	summary := "No summary"
	if session.Summary != nil {
		summary = *session.Summary
	}
	if err := h.Publisher.PostReply(ctx, in.ChannelID, in.MessageTS, fmt.Sprintf("Preview: %q", summary), blocks); err != nil {
		h.Logger.Printf("slackcmd: preview post failed: %v", err)
		h.respondEphemeral(ctx, in.ResponseURL, fmt.Sprintf("Failed to get preview: %v", err))
	}
}

// HandlePagination handles the search_prev/search_next/search_refresh
// buttons (and silently ignores the disabled/indicator variants).
func (h *Handler) HandlePagination(ctx context.Context, actionID string, in Interaction) {
	switch actionID {
	case "search_prev_disabled", "search_next_disabled", "search_page_indicator":
		return
	}

	key := chatKey(in.ChannelID)
	state, err := h.States.Get(key)
	if err != nil || state == nil {
		h.respondEphemeral(ctx, in.ResponseURL, "Search results expired. Please search again.")
		return
	}

	switch actionID {
	case "search_next":
		state, err = h.States.UpdateOffset(key, state.CurrentOffset+pageSize)
	case "search_prev":
		offset := state.CurrentOffset - pageSize
		if offset < 0 {
			offset = 0
		}
		state, err = h.States.UpdateOffset(key, offset)
	case "search_refresh":
		h.refreshSearch(ctx, key, state, in)
		return
	default:
		return
	}
	if err != nil || state == nil {
		return
	}
	h.updateSearchMessage(ctx, state, in)
}

func (h *Handler) refreshSearch(ctx context.Context, key string, oldState *searchstate.State, in Interaction) {
	params := h.Engine.ParseQuery(oldState.Query)
	params.Filters = oldState.Filters
	params.Limit = allResultsLimit
	results, err := h.Engine.Search(params)
	if err != nil {
		h.Logger.Printf("slackcmd: refresh search failed: %v", err)
		return
	}

	newState := &searchstate.State{
		Query:         oldState.Query,
		Filters:       oldState.Filters,
		Results:       results.Results,
		CurrentOffset: 0,
		MessageID:     in.MessageTS,
		CreatedAt:     time.Now(),
	}
	h.States.Save(key, newState)
	h.updateSearchMessage(ctx, newState, in)
}

func (h *Handler) updateSearchMessage(ctx context.Context, state *searchstate.State, in Interaction) {
	results := &search.Results{
		Query:   state.Query,
		Filters: state.Filters,
		Sort:    "recent",
		Total:   len(state.Results),
		Offset:  state.CurrentOffset,
		Limit:   pageSize,
		Results: state.Page(pageSize),
	}

	var blocks []slack.Block
	var fallback string
	if results.Total == 0 {
		blocks = formatEmptyResults(state.Query)
		fallback = fmt.Sprintf("No sessions found matching %q", state.Query)
	} else {
		blocks = formatSearchResults(results, state)
		fallback = fmt.Sprintf("Found %d sessions", results.Total)
	}

	if err := h.Publisher.UpdateMessage(ctx, in.ChannelID, in.MessageTS, fallback, blocks); err != nil {
		h.Logger.Printf("slackcmd: updating search message failed: %v", err)
	}
}
