package slackcmd

import (
	"context"

	"github.com/slack-go/slack"
)

// Publisher posts and updates chat messages on a single Slack
// workspace. Implemented by slackClient below, backed by a real
// *slack.Client; tests substitute a fake.
type Publisher interface {
	// SendMessage posts a new message to channel and returns its
	// timestamp (Slack's message identifier).
	SendMessage(ctx context.Context, channel, fallbackText string, blocks []slack.Block) (timestamp string, err error)

	// UpdateMessage replaces the content of an existing message.
	UpdateMessage(ctx context.Context, channel, timestamp, fallbackText string, blocks []slack.Block) error

	// PostReply posts a threaded reply under an existing message.
	PostReply(ctx context.Context, channel, threadTimestamp, fallbackText string, blocks []slack.Block) error
}

// slackClient adapts a real *slack.Client to Publisher.
type slackClient struct {
	client *slack.Client
}

// NewPublisher constructs a Publisher backed by the Slack Web API,
// authenticated with botToken.
func NewPublisher(botToken string) Publisher {
	return &slackClient{client: slack.New(botToken)}
}

func (s *slackClient) SendMessage(ctx context.Context, channel, fallbackText string, blocks []slack.Block) (string, error) {
	_, timestamp, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
	)
	return timestamp, err
}

func (s *slackClient) UpdateMessage(ctx context.Context, channel, timestamp, fallbackText string, blocks []slack.Block) error {
	_, _, _, err := s.client.UpdateMessageContext(ctx, channel, timestamp,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
	)
	return err
}

func (s *slackClient) PostReply(ctx context.Context, channel, threadTimestamp, fallbackText string, blocks []slack.Block) error {
	_, _, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
		slack.MsgOptionTS(threadTimestamp),
	)
	return err
}

// defaultPostWebhook posts a delayed slash-command response to url,
// the mechanism described by Slack's response_url contract.
func defaultPostWebhook(ctx context.Context, url string, msg *slack.WebhookMessage) error {
	return slack.PostWebhookContext(ctx, url, msg)
}
