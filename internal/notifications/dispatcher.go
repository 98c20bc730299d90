// Package notifications sends incident threads, replies and tier escalations
// over chat and SMS.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/pkg/ctxlog"
)

// ChatClient is the chat platform API used by the dispatcher.
type ChatClient interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error)
	ChannelID(ctx context.Context, name string) (string, error)
	UserID(ctx context.Context, displayName string) (string, error)
	HasReactions(ctx context.Context, channelID, ts string) (bool, error)
}

// SMSSender sends a short text to a phone number.
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

// BroadcastMention is used when a display name cannot be resolved.
const BroadcastMention = "<!channel>"

// Dispatcher posts incident messages to one chat channel and pages tiers by SMS.
// Every operation is best-effort: errors are returned for logging, never retried here.
type Dispatcher struct {
	chat     ChatClient
	sms      SMSSender
	channel  string
	renderer *Renderer
}

// NewDispatcher creates a dispatcher posting to the named channel.
func NewDispatcher(chat ChatClient, sms SMSSender, channel string, renderer *Renderer) *Dispatcher {
	return &Dispatcher{
		chat:     chat,
		sms:      sms,
		channel:  channel,
		renderer: renderer,
	}
}

// StartThread posts subject as a new top-level message and returns its thread handle.
func (d *Dispatcher) StartThread(ctx context.Context, subject string) (string, error) {
	start := time.Now()
	thread, err := d.post(ctx, subject, "")
	recordDispatch("chat", "start_thread", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("start thread: %w", err)
	}
	return thread, nil
}

// Reply posts text into the thread. An empty thread posts to the channel.
func (d *Dispatcher) Reply(ctx context.Context, thread, text string) error {
	start := time.Now()
	_, err := d.post(ctx, text, thread)
	recordDispatch("chat", "reply", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// HasAcknowledgment reports whether anyone reacted to the thread's first message.
func (d *Dispatcher) HasAcknowledgment(ctx context.Context, thread string) (bool, error) {
	start := time.Now()
	acked, err := d.hasReactions(ctx, thread)
	recordDispatch("chat", "check_ack", err, time.Since(start))
	if err != nil {
		return false, fmt.Errorf("check acknowledgment: %w", err)
	}
	return acked, nil
}

// NotifyTier mentions the tier contact in the thread and sends smsText to its phone.
// Both channels are attempted; their errors are joined.
func (d *Dispatcher) NotifyTier(ctx context.Context, tier domain.Tier, thread, smsText string) error {
	var errs []error

	text, err := d.renderer.Render(MessageEscalation, MessageData{
		Tier:    tier.Name,
		Mention: d.Mention(ctx, tier.DisplayName),
	})
	if err != nil {
		errs = append(errs, err)
	} else if err := d.Reply(ctx, thread, text); err != nil {
		errs = append(errs, err)
	}

	if tier.Phone == "" {
		ctxlog.FromContext(ctx).Warn("tier has no phone number, sms skipped", "tier", tier.Name)
		return errors.Join(errs...)
	}

	start := time.Now()
	err = d.sms.Send(ctx, tier.Phone, smsText)
	recordDispatch("sms", "notify_tier", err, time.Since(start))
	if err != nil {
		errs = append(errs, fmt.Errorf("sms to tier %s: %w", tier.Name, err))
	}

	return errors.Join(errs...)
}

// Mention returns the chat mention for a display name, resolved on every call.
// Falls back to a channel-wide mention when the user cannot be found.
func (d *Dispatcher) Mention(ctx context.Context, displayName string) string {
	if displayName == "" {
		return BroadcastMention
	}
	id, err := d.chat.UserID(ctx, displayName)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("failed to resolve chat user, mentioning channel",
			"display_name", displayName,
			"error", err,
		)
		return BroadcastMention
	}
	return "<@" + id + ">"
}

// Ping resolves the target channel, verifying token and channel access.
func (d *Dispatcher) Ping(ctx context.Context) error {
	_, err := d.chat.ChannelID(ctx, d.channel)
	return err
}

func (d *Dispatcher) post(ctx context.Context, text, thread string) (string, error) {
	channelID, err := d.chat.ChannelID(ctx, d.channel)
	if err != nil {
		return "", fmt.Errorf("resolve channel %s: %w", d.channel, err)
	}
	return d.chat.PostMessage(ctx, channelID, text, thread)
}

func (d *Dispatcher) hasReactions(ctx context.Context, thread string) (bool, error) {
	if thread == "" {
		return false, ErrNoThread
	}
	channelID, err := d.chat.ChannelID(ctx, d.channel)
	if err != nil {
		return false, fmt.Errorf("resolve channel %s: %w", d.channel, err)
	}
	return d.chat.HasReactions(ctx, channelID, thread)
}
