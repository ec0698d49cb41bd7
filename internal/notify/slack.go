package notify

import (
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/approval"
)

// SlackNotifier posts approval activity to one Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a Slack notifier. botToken is the Bot User
// OAuth Token (xoxb-...); channel is a channel id or name the bot can
// post to.
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// RequestCreated implements approval.Observer.
func (n *SlackNotifier) RequestCreated(req *approval.Request) {
	n.post(formatCreated(req), req.ID)
}

// RequestDecided implements approval.Observer.
func (n *SlackNotifier) RequestDecided(req *approval.Request) {
	n.post(formatDecided(req), req.ID)
}

// post sends in its own goroutine so the gate never waits on Slack.
func (n *SlackNotifier) post(text, requestID string) {
	go func() {
		_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
		if err != nil {
			n.logger.Warn("slack notification failed",
				zap.String("request_id", requestID), zap.Error(err))
		}
	}()
}
