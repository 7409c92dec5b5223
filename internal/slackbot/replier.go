package slackbot

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Replier posts messages with chat.postMessage.
type Replier struct {
	api *slack.Client
}

func NewReplier(api *slack.Client) *Replier {
	return &Replier{api: api}
}

func (r *Replier) Reply(ctx context.Context, channel, threadTS, text string) error {
	_, _, err := r.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("chat.postMessage: %w", err)
	}
	return nil
}
