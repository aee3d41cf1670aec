package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

const slackMaxMessage = 3900

// SlackAdapter implements GatewayAdapter for Slack using Socket Mode. It
// answers direct messages and app mentions, replying in thread.
type SlackAdapter struct {
	client  *slack.Client
	socket  *socketmode.Client
	handler MessageHandler

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)
	return &SlackAdapter{client: client, socket: socket, logger: logger}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect starts the Socket Mode event loop in a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.setError(err.Error())
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.connected, a.connectedAt, a.lastError = true, time.Now(), ""
		a.mu.Unlock()
		a.logger.Info("slack socket mode connected")
	case socketmode.EventTypeConnectionError, socketmode.EventTypeInvalidAuth:
		a.setError(string(evt.Type))
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := eventsAPI.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.ThreadTimeStamp, inner.TimeStamp)
		case *slackevents.MessageEvent:
			// Channel messages arrive as mentions; only direct messages here.
			if inner.BotID != "" || inner.ChannelType != "im" || inner.SubType != "" {
				return
			}
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.ThreadTimeStamp, inner.TimeStamp)
		}
	}
}

func (a *SlackAdapter) dispatch(channel, user, text, threadTS, ts string) {
	if a.handler == nil {
		return
	}
	if threadTS == "" {
		threadTS = ts
	}
	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: channel,
		UserID:    user,
		UserName:  user,
		Content:   StripMentions(text),
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts an answer to a Slack channel, in thread when ReplyTo is set.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	for _, part := range Chunk(msg.Content, slackMaxMessage) {
		opts := []slack.MsgOption{slack.MsgOptionText(part, false)}
		if msg.ReplyTo != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
		}
		if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
			a.logger.Error("slack send failed",
				zap.String("channel", msg.ChannelID), zap.Error(err))
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

func (a *SlackAdapter) setError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.lastError = msg
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = "socket mode"
	}
	return s
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}
