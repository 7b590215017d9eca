package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/sessionwatcher/watcher/internal/slackcmd"
)

// registerSlackRoutes mounts the Slack slash-command and interactivity
// endpoints. Slack requires both to ack within 3 seconds; HandleSearch
// and the button handlers below do their real work in a goroutine and
// this layer only ever needs to return 200 immediately.
func registerSlackRoutes(mux *http.ServeMux, handler *slackcmd.Handler, logger *log.Logger) {
	mux.HandleFunc("POST /slack/command", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		text := r.FormValue("text")
		userID := r.FormValue("user_id")
		channelID := r.FormValue("channel_id")
		responseURL := r.FormValue("response_url")

		resp := handler.HandleSearch(r.Context(), text, userID, channelID, responseURL)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if resp != nil {
			json.NewEncoder(w).Encode(resp)
		}
	})

	mux.HandleFunc("POST /slack/interact", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var payload slack.InteractionCallback
		if err := json.Unmarshal([]byte(r.FormValue("payload")), &payload); err != nil {
			logger.Printf("slack: invalid interaction payload: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

		if len(payload.ActionCallback.BlockActions) == 0 {
			return
		}
		action := payload.ActionCallback.BlockActions[0]
		in := slackcmd.Interaction{
			ChannelID:   payload.Channel.ID,
			UserID:      payload.User.ID,
			MessageTS:   payload.Message.Timestamp,
			ResponseURL: payload.ResponseURL,
		}

		go func() {
			ctx := context.Background()
			switch {
			case action.SelectedOption.Value != "":
				handler.HandleOverflowSelection(ctx, action.SelectedOption.Value, in)
			default:
				handler.HandlePagination(ctx, action.ActionID, in)
			}
		}()
	})
}
