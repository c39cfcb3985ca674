package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/slack-go/slack"
)

// Slack posts through an incoming webhook. The target, when set, overrides
// the webhook's default channel.
type Slack struct {
	webhookURL string
	username   string
}

func NewSlack(webhookURL, username string) (*Slack, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, errors.New("slack webhook url is empty")
	}
	return &Slack{webhookURL: webhookURL, username: username}, nil
}

func (s *Slack) SendMessage(ctx context.Context, target, text string) error {
	msg := &slack.WebhookMessage{
		Text:     text,
		Username: s.username,
	}
	if ch := strings.TrimSpace(target); ch != "" && ch != "default" {
		msg.Channel = ch
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, msg)
}
