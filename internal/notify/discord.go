package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/approval"
)

// DiscordNotifier posts approval activity to one Discord channel. It
// uses the REST API only; no gateway websocket is opened.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a Discord notifier from a bot token and a
// target channel id.
func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

// RequestCreated implements approval.Observer.
func (n *DiscordNotifier) RequestCreated(req *approval.Request) {
	n.post(formatCreated(req), req.ID)
}

// RequestDecided implements approval.Observer.
func (n *DiscordNotifier) RequestDecided(req *approval.Request) {
	n.post(formatDecided(req), req.ID)
}

// post sends in its own goroutine so the gate never waits on Discord.
func (n *DiscordNotifier) post(content, requestID string) {
	go func() {
		if _, err := n.session.ChannelMessageSend(n.channelID, content); err != nil {
			n.logger.Warn("discord notification failed",
				zap.String("request_id", requestID), zap.Error(err))
		}
	}()
}
