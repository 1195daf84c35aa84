package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/notify"
	"github.com/colonyops/crew/internal/data/stores"
)

// MessageBus is the durable message log with live fan-out. Every published
// message is stored before it is pushed to subscribers.
type MessageBus struct {
	s *Service
}

// Messages returns the service's message bus.
func (s *Service) Messages() *MessageBus {
	return &MessageBus{s: s}
}

// Publish appends m as a pending message. ID, status and timestamps are
// assigned by the bus; createdAt never goes backward.
func (b *MessageBus) Publish(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	if err := m.Validate(); err != nil {
		return messaging.Message{}, err
	}

	var stored messaging.Message
	err := b.s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		var err error
		stored, err = b.s.appendMessage(ctx, r, ev, m)
		return err
	})
	return stored, err
}

// Subscribe opens a live feed of events matching f.
func (b *MessageBus) Subscribe(f Filter) *Subscription {
	return b.s.hub.Subscribe(f)
}

// Get returns one message.
func (b *MessageBus) Get(ctx context.Context, id string) (messaging.Message, error) {
	return b.s.repo.Messages.Get(ctx, id)
}

// PendingFor returns pending messages addressed to recipient, oldest first.
// An empty sessionKey covers all sessions.
func (b *MessageBus) PendingFor(ctx context.Context, recipient messaging.Recipient, sessionKey string) ([]messaging.Message, error) {
	return b.s.repo.Messages.Pending(ctx, messaging.PendingFilter{Recipient: recipient, SessionKey: sessionKey})
}

// Pending returns pending messages matching filter, oldest first.
func (b *MessageBus) Pending(ctx context.Context, filter messaging.PendingFilter) ([]messaging.Message, error) {
	return b.s.repo.Messages.Pending(ctx, filter)
}

// List returns the last limit messages of a session in order.
func (b *MessageBus) List(ctx context.Context, sessionKey string, limit int) ([]messaging.Message, error) {
	return b.s.repo.Messages.List(ctx, sessionKey, limit)
}

// MarkDelivered moves a message to delivered. When response is not blank a
// reply is published to the same session from the other party and returned.
func (b *MessageBus) MarkDelivered(ctx context.Context, id, response string) (messaging.Message, *messaging.Message, error) {
	return b.advance(ctx, id, messaging.StatusDelivered, response)
}

// MarkRead moves a message to read, stamping delivery as well if needed.
func (b *MessageBus) MarkRead(ctx context.Context, id string) (messaging.Message, error) {
	m, _, err := b.advance(ctx, id, messaging.StatusRead, "")
	return m, err
}

// SetStatus advances a message to status, replying with response when the
// target is delivered.
func (b *MessageBus) SetStatus(ctx context.Context, id string, status messaging.Status, response string) (messaging.Message, *messaging.Message, error) {
	if !status.Valid() {
		return messaging.Message{}, nil, fmt.Errorf("%w: unknown status %q", messaging.ErrInvalidStatus, status)
	}
	return b.advance(ctx, id, status, response)
}

func (b *MessageBus) advance(ctx context.Context, id string, to messaging.Status, response string) (messaging.Message, *messaging.Message, error) {
	var (
		updated messaging.Message
		reply   *messaging.Message
	)
	err := b.s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		reply = nil

		m, err := r.Messages.Get(ctx, id)
		if err != nil {
			return err
		}

		var changed bool
		updated, changed, err = m.Advance(to, b.s.now())
		if err != nil {
			return err
		}
		if changed {
			if err := r.Messages.UpdateStatus(ctx, updated); err != nil {
				return err
			}
			ev.messageUpdated(updated)
		}

		if resp := strings.TrimSpace(response); resp != "" && to == messaging.StatusDelivered {
			stored, err := b.s.appendMessage(ctx, r, ev, messaging.Message{
				SessionKey: m.SessionKey,
				TaskID:     m.TaskID,
				Sender:     messaging.ReplySender(m.Sender),
				Content:    resp,
			})
			if err != nil {
				return err
			}
			reply = &stored
		}
		return nil
	})
	return updated, reply, err
}

// BroadcastNotification forwards a notification to live subscribers.
func (s *Service) BroadcastNotification(n notify.Notification) {
	s.hub.Broadcast(Event{
		Type:         eventbus.EventNotificationPublished,
		At:           n.CreatedAt,
		TaskID:       n.TaskID,
		Notification: &n,
	})
}
