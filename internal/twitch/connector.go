package twitch

import (
	"context"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/message"
)

// Connector manages the Twitch chat connection of one channel
type Connector struct {
	username string
	oauth    string
	channel  string
	log      *zap.Logger
	client   *twitch.Client
}

// New creates a new Twitch connector. Without an OAuth token the connector
// joins anonymously, which is enough to read chat.
func New(log *zap.Logger, username, oauth, channel string) *Connector {
	return &Connector{
		username: username,
		oauth:    oauth,
		channel:  strings.ToLower(strings.TrimPrefix(channel, "#")),
		log:      log.Named("twitch"),
	}
}

// Start connects, forwards chat and moderation events until ctx is done and
// then disconnects so no further events reach ingestion.
func (c *Connector) Start(ctx context.Context, events chan<- message.Event) error {
	if c.oauth != "" {
		c.client = twitch.NewClient(c.username, "oauth:"+c.oauth)
	} else {
		c.client = twitch.NewAnonymousClient()
	}

	send := func(ev message.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		send(convertPrivateMessage(msg))
	})

	c.client.OnClearChatMessage(func(msg twitch.ClearChatMessage) {
		send(convertClearChat(msg))
	})

	c.client.OnClearMessage(func(msg twitch.ClearMessage) {
		send(convertClearMessage(msg))
	})

	// Set up connection event handlers
	c.client.OnConnect(func() {
		c.log.Info("connected to Twitch IRC")
	})

	c.client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		c.log.Info("reconnecting to Twitch IRC")
	})

	c.client.Join(c.channel)
	c.log.Info("joined channel", zap.String("channel", c.channel))

	// Start the client in a goroutine
	go func() {
		if err := c.client.Connect(); err != nil && err != twitch.ErrClientDisconnected {
			c.log.Error("Twitch IRC connection error", zap.Error(err))
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Disconnect gracefully
	c.log.Info("disconnecting from Twitch IRC")
	if err := c.client.Disconnect(); err != nil {
		c.log.Warn("disconnect", zap.Error(err))
	}

	return ctx.Err()
}

func convertPrivateMessage(msg twitch.PrivateMessage) message.ChatEvent {
	id := msg.ID
	if id == "" {
		id = msg.Tags["id"]
	}
	sentAt := msg.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	return message.ChatEvent{
		Meta: message.Metadata{
			ID:          id,
			Channel:     msg.Channel,
			UserID:      msg.User.ID,
			Username:    msg.User.Name,
			DisplayName: msg.User.DisplayName,
			Color:       msg.User.Color,
			Badges:      parseBadges(msg.Tags["badges"]),
			Mod:         msg.Tags["mod"] == "1",
			Emotes:      parseEmotes(msg.Tags["emotes"]),
			SentAt:      sentAt,
		},
		Text: msg.Message,
	}
}

// convertClearChat distinguishes a full clear from a ban or a timeout.
func convertClearChat(msg twitch.ClearChatMessage) message.Event {
	channel := strings.TrimPrefix(msg.Channel, "#")
	switch {
	case msg.TargetUsername == "":
		return message.ClearChatEvent{Channel: channel}
	case msg.BanDuration == 0:
		return message.BanEvent{Channel: channel, Username: msg.TargetUsername}
	default:
		return message.TimeoutEvent{
			Channel:  channel,
			Username: msg.TargetUsername,
			Duration: time.Duration(msg.BanDuration) * time.Second,
		}
	}
}

func convertClearMessage(msg twitch.ClearMessage) message.DeletedEvent {
	return message.DeletedEvent{
		Channel:  strings.TrimPrefix(msg.Channel, "#"),
		Username: msg.Login,
		Text:     msg.Message,
		TargetID: msg.TargetMsgID,
	}
}
