// Package router turns chat messages into commands or questions and sends
// the answer back to the channel they came from.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/command"
	"github.com/nidhogg/mnemo/internal/gateway"
	"github.com/nidhogg/mnemo/internal/orchestrator"
	pgstore "github.com/nidhogg/mnemo/internal/store"
)

// Answerer processes a question.
type Answerer interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// Sender delivers replies to a platform.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
	Typing(ctx context.Context, platform, channelID string)
}

// Sessions persists the chat transcript per channel.
type Sessions interface {
	FindOrCreateSession(ctx context.Context, platform, channelID string) (string, error)
	AppendMessage(ctx context.Context, sessionID string, msg pgstore.Message) error
}

const busyReply = "I'm answering too many questions right now. Please try again in a moment."

// MessageRouter routes inbound messages to the command registry or the
// coordinator.
type MessageRouter struct {
	answerer Answerer
	sender   Sender
	sessions Sessions
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a MessageRouter. sessions may be nil.
func New(answerer Answerer, sender Sender, sessions Sessions,
	commands *command.Registry, timeout time.Duration, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		answerer: answerer,
		sender:   sender,
		sessions: sessions,
		commands: commands,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle routes one inbound message and blocks until the reply is sent.
// Its signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	if mr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mr.timeout)
		defer cancel()
	}
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	content := strings.TrimSpace(msg.Content)
	if command.IsCommand(content) {
		mr.handleCommand(ctx, msg, content)
		return
	}

	sessionID := mr.record(ctx, msg, "", pgstore.Message{Role: "user", Content: content})
	mr.sender.Typing(ctx, msg.Platform, msg.ChannelID)

	resp, err := mr.answerer.Process(ctx, orchestrator.Request{
		Query: content,
		Context: map[string]any{
			"platform": msg.Platform,
			"channel":  msg.ChannelID,
			"user":     msg.UserName,
		},
	})
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		mr.sendReply(ctx, msg, busyReply)
		return
	case err != nil:
		mr.logger.Error("process failed", zap.Error(err))
		mr.sendReply(ctx, msg, fmt.Sprintf("Sorry, something went wrong: %s", err.Error()))
		return
	}

	mr.record(ctx, msg, sessionID, pgstore.Message{
		Role:       "assistant",
		Content:    resp.FinalAnswer,
		TaskID:     resp.TaskID,
		Confidence: resp.OverallConfidence,
	})
	mr.sendReply(ctx, msg, resp.FinalAnswer)
}

func (mr *MessageRouter) handleCommand(ctx context.Context, msg *gateway.InboundMessage, content string) {
	cc := &command.CommandContext{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
	}
	result, err := mr.commands.Dispatch(ctx, content, cc)
	if err != nil {
		mr.logger.Error("command dispatch error", zap.Error(err))
		mr.sendReply(ctx, msg, "Command error: "+err.Error())
		return
	}
	mr.sendReply(ctx, msg, result.Content)
}

// record appends to the channel session and returns its id. Failures are
// logged; the transcript is best effort.
func (mr *MessageRouter) record(ctx context.Context, msg *gateway.InboundMessage, sessionID string, m pgstore.Message) string {
	if mr.sessions == nil {
		return ""
	}
	if sessionID == "" {
		sid, err := mr.sessions.FindOrCreateSession(ctx, msg.Platform, msg.ChannelID)
		if err != nil {
			mr.logger.Error("find/create session failed", zap.Error(err))
			return ""
		}
		sessionID = sid
	}
	if err := mr.sessions.AppendMessage(context.WithoutCancel(ctx), sessionID, m); err != nil {
		mr.logger.Warn("append message failed", zap.String("session", sessionID), zap.Error(err))
	}
	return sessionID
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.sender.Send(context.WithoutCancel(ctx), &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
