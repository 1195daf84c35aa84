// Package bot relays messages addressed to humans to an outside channel and
// marks them delivered.
package bot

import (
	"context"
	"time"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/notify"
	"github.com/rs/zerolog"
)

// Coordinator is the part of the coordinator client the bot uses.
type Coordinator interface {
	PendingMessages(ctx context.Context, filter messaging.PendingFilter) ([]messaging.Message, error)
	SetMessageStatus(ctx context.Context, id string, status messaging.Status, response string) (api.MessageStatusResponse, error)
}

// Bot polls pending human-addressed messages.
type Bot struct {
	coord    Coordinator
	notifier notify.Notifier
	interval time.Duration
	log      zerolog.Logger
}

// New creates a bot that polls every interval.
func New(coord Coordinator, notifier notify.Notifier, interval time.Duration, log zerolog.Logger) *Bot {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Bot{coord: coord, notifier: notifier, interval: interval, log: log}
}

// Run polls until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if _, err := b.Poll(ctx); err != nil && ctx.Err() == nil {
			b.log.Warn().Err(err).Msg("poll failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll relays every pending message once and returns how many were
// delivered. A message whose notification fails stays pending for the next
// poll.
func (b *Bot) Poll(ctx context.Context) (int, error) {
	msgs, err := b.coord.PendingMessages(ctx, messaging.PendingFilter{Recipient: messaging.RecipientHuman})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range msgs {
		if err := b.notifier.Notify(ctx, toNotification(m)); err != nil {
			b.log.Warn().Err(err).Str("message", m.ID).Msg("notify failed")
			continue
		}

		if _, err := b.coord.SetMessageStatus(ctx, m.ID, messaging.StatusDelivered, ""); err != nil {
			return delivered, err
		}
		delivered++
		b.log.Debug().Str("message", m.ID).Str("task", m.TaskID).Msg("relayed")
	}
	return delivered, nil
}

func toNotification(m messaging.Message) notify.Notification {
	level := notify.LevelInfo
	if m.Sender == messaging.SenderSystem {
		level = notify.LevelWarning
	}
	return notify.Notification{
		Level:     level,
		Message:   m.Content,
		TaskID:    m.TaskID,
		CreatedAt: m.CreatedAt,
	}
}
