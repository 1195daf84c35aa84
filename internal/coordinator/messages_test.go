package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id seq and pending status", func(t *testing.T) {
		h := newHarness(t)
		m, err := h.svc.Messages().Publish(ctx, messaging.Message{
			SessionKey: "ops",
			Sender:     messaging.SenderWorker,
			Content:    "deploy finished",
			Status:     messaging.StatusRead,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, m.ID)
		assert.Positive(t, m.Seq)
		assert.Equal(t, messaging.StatusPending, m.Status)
		assert.True(t, m.CreatedAt.Equal(h.clock.Now()))

		h.bus.AssertPublished(t, eventbus.EventMessagePublished)
	})

	t.Run("invalid message", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Messages().Publish(ctx, messaging.Message{SessionKey: "ops", Sender: "robot", Content: "x"})
		assert.ErrorIs(t, err, messaging.ErrInvalidSender)
	})

	t.Run("createdAt never goes backward", func(t *testing.T) {
		h := newHarness(t)
		bus := h.svc.Messages()

		first, err := bus.Publish(ctx, messaging.Message{SessionKey: "s", Sender: messaging.SenderHuman, Content: "one"})
		require.NoError(t, err)

		h.clock.Advance(-time.Hour)
		second, err := bus.Publish(ctx, messaging.Message{SessionKey: "s", Sender: messaging.SenderHuman, Content: "two"})
		require.NoError(t, err)

		assert.Greater(t, second.Seq, first.Seq)
		assert.False(t, second.CreatedAt.Before(first.CreatedAt))
	})

	t.Run("clock resumes from stored messages", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Messages().Publish(ctx, messaging.Message{SessionKey: "s", Sender: messaging.SenderHuman, Content: "one"})
		require.NoError(t, err)
		latest := h.clock.Now()

		restarted := New(h.repo, nil, Options{StaleTTL: testTTL, Now: func() time.Time { return latest.Add(-time.Minute) }}, h.svc.log)
		m, err := restarted.Messages().Publish(ctx, messaging.Message{SessionKey: "s", Sender: messaging.SenderHuman, Content: "two"})
		require.NoError(t, err)
		assert.True(t, m.CreatedAt.Equal(latest))
	})
}

func TestMessageBus_Status(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bus := h.svc.Messages()

	question, err := bus.Publish(ctx, messaging.Message{
		SessionKey: "task:t1",
		TaskID:     "t1",
		Sender:     messaging.SenderWorker,
		Content:    "which branch?",
	})
	require.NoError(t, err)

	t.Run("deliver with response", func(t *testing.T) {
		delivered, reply, err := bus.MarkDelivered(ctx, question.ID, "main")
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusDelivered, delivered.Status)
		require.NotNil(t, delivered.DeliveredAt)

		require.NotNil(t, reply)
		assert.Equal(t, messaging.SenderHuman, reply.Sender)
		assert.Equal(t, "task:t1", reply.SessionKey)
		assert.Equal(t, "t1", reply.TaskID)
		assert.Equal(t, messaging.RecipientWorker, reply.Recipient())
	})

	t.Run("repeat is a no-op", func(t *testing.T) {
		again, reply, err := bus.MarkDelivered(ctx, question.ID, "")
		require.NoError(t, err)
		assert.Nil(t, reply)
		assert.Equal(t, messaging.StatusDelivered, again.Status)
	})

	t.Run("read", func(t *testing.T) {
		read, err := bus.MarkRead(ctx, question.ID)
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusRead, read.Status)
		assert.NotNil(t, read.ReadAt)
	})

	t.Run("backward move rejected", func(t *testing.T) {
		_, _, err := bus.SetStatus(ctx, question.ID, messaging.StatusPending, "")
		assert.ErrorIs(t, err, messaging.ErrInvalidStatus)

		got, err := bus.Get(ctx, question.ID)
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusRead, got.Status)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, _, err := bus.SetStatus(ctx, question.ID, "archived", "")
		assert.ErrorIs(t, err, messaging.ErrInvalidStatus)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := bus.MarkRead(ctx, "missing")
		assert.ErrorIs(t, err, messaging.ErrNotFound)
	})

	t.Run("pending to read stamps delivery", func(t *testing.T) {
		m, err := bus.Publish(ctx, messaging.Message{SessionKey: "s", Sender: messaging.SenderSystem, Content: "fyi"})
		require.NoError(t, err)

		read, err := bus.MarkRead(ctx, m.ID)
		require.NoError(t, err)
		assert.NotNil(t, read.DeliveredAt)
		assert.NotNil(t, read.ReadAt)
	})
}

func TestMessageBus_Subscribe(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bus := h.svc.Messages()

	all := bus.Subscribe(Filter{})
	defer all.Close()
	scoped := bus.Subscribe(Filter{SessionKey: "task:t1"})
	defer scoped.Close()

	for _, session := range []string{"task:t1", "other", "task:t1"} {
		_, err := bus.Publish(ctx, messaging.Message{SessionKey: session, Sender: messaging.SenderWorker, Content: session})
		require.NoError(t, err)
	}

	got := drain(all)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, eventbus.EventMessagePublished, e.Type)
	}

	scopedEvents := drain(scoped)
	require.Len(t, scopedEvents, 2)
	assert.Equal(t, int64(1), scopedEvents[0].Seq)
	assert.Equal(t, int64(2), scopedEvents[1].Seq)
	assert.Less(t, scopedEvents[0].Message.Seq, scopedEvents[1].Message.Seq)
}
