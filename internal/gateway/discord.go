package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const discordMaxMessage = 2000

// DiscordAdapter implements GatewayAdapter for Discord using the bot
// gateway. In guild channels it answers only when mentioned; direct
// messages are always answered.
type DiscordAdapter struct {
	token   string
	session *discordgo.Session
	handler MessageHandler

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{token: token, logger: logger}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.connected, a.connectedAt, a.lastError = true, time.Now(), ""
	a.mu.Unlock()

	guildCount := len(a.session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot is not in any server yet")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || a.handler == nil {
		return
	}
	if m.GuildID != "" && !mentions(m.Mentions, s.State.User.ID) {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   StripMentions(m.Content),
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
}

func mentions(users []*discordgo.User, id string) bool {
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

// Send posts an answer, replying to the triggering message when known.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	for i, part := range Chunk(msg.Content, discordMaxMessage) {
		send := &discordgo.MessageSend{Content: part}
		if i == 0 && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChannelID}
		}
		if _, err := a.session.ChannelMessageSendComplex(msg.ChannelID, send); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// Typing shows the typing indicator for about ten seconds.
func (a *DiscordAdapter) Typing(_ context.Context, channelID string) error {
	if a.session == nil {
		return nil
	}
	return a.session.ChannelTyping(channelID)
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.lastError = msg
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		if a.session != nil && a.session.State != nil && a.session.State.User != nil {
			s.Details = fmt.Sprintf("bot=%s, guilds=%d",
				a.session.State.User.Username, len(a.session.State.Guilds))
		}
	}
	return s
}
