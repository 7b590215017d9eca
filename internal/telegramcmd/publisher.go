package telegramcmd

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Publisher sends and edits messages on a single Telegram bot.
// Implemented by botClient below, backed by a real *tgbotapi.BotAPI;
// tests substitute a fake.
type Publisher interface {
	// SendMessage posts text with an optional keyboard to chatID,
	// inside threadID if non-zero, and returns the new message ID.
	SendMessage(chatID int64, threadID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (messageID int, err error)

	// EditMessage replaces the text and keyboard of an existing
	// message.
	EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error

	// SendReply posts text as a reply to an existing message.
	SendReply(chatID int64, threadID, replyToMessageID int, text string) error

	// AnswerCallback acknowledges a callback query with a short
	// toast, as Telegram requires within its own ack window.
	AnswerCallback(callbackQueryID, text string) error
}

// botClient adapts a real *tgbotapi.BotAPI to Publisher.
type botClient struct {
	bot *tgbotapi.BotAPI
}

// NewPublisher constructs a Publisher backed by the Telegram Bot API,
// authenticated with botToken.
func NewPublisher(botToken string) (Publisher, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &botClient{bot: bot}, nil
}

func (c *botClient) SendMessage(chatID int64, threadID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if threadID != 0 {
		msg.MessageThreadID = threadID
	}
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *botClient) EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if keyboard != nil {
		edit.ReplyMarkup = keyboard
	}
	_, err := c.bot.Send(edit)
	return err
}

func (c *botClient) SendReply(chatID int64, threadID, replyToMessageID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyToMessageID = replyToMessageID
	if threadID != 0 {
		msg.MessageThreadID = threadID
	}
	_, err := c.bot.Send(msg)
	return err
}

func (c *botClient) AnswerCallback(callbackQueryID, text string) error {
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackQueryID, text))
	return err
}
