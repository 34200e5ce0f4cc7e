package events

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts notifications to a staff channel
type SlackNotifier struct {
	client  slackPoster
	channel string
}

// NewSlackNotifier returns a notifier that posts with the given bot token
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Message)
	if n.UserID != "" {
		text += fmt.Sprintf("\n_for user %s_", n.UserID)
	}
	if n.ActionURL != "" {
		text += "\n" + n.ActionURL
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}
