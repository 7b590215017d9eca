package main

import (
	"context"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sessionwatcher/watcher/internal/telegramcmd"
)

// runTelegramPolling drives the Telegram command surface via long
// polling rather than a public webhook, matching a locally-run tool
// that has no guaranteed public HTTPS endpoint to register with
// Telegram. Blocks until the bot's update channel closes.
func runTelegramPolling(botToken string, handler *telegramcmd.Handler, logger *log.Logger) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		logger.Printf("telegram: polling unavailable: %v", err)
		return
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.Message != nil && update.Message.IsCommand() && update.Message.Command() == "search":
			threadID := update.Message.MessageThreadID
			chatID := update.Message.Chat.ID
			query := update.Message.CommandArguments()
			go handler.HandleSearch(context.Background(), query, formatChatID(chatID), threadID)

		case update.CallbackQuery != nil:
			cb := update.CallbackQuery
			threadID := 0
			var messageID int
			var chatID int64
			if cb.Message != nil {
				messageID = cb.Message.MessageID
				threadID = cb.Message.MessageThreadID
				if cb.Message.Chat != nil {
					chatID = cb.Message.Chat.ID
				}
			}
			answer := handler.HandleCallback(context.Background(), cb.Data, formatChatID(chatID), messageID, threadID)
			if _, err := bot.Request(tgbotapi.NewCallback(cb.ID, answer)); err != nil {
				logger.Printf("telegram: answering callback failed: %v", err)
			}
		}
	}
}

func formatChatID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
