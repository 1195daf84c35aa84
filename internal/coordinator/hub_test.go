package coordinator

import (
	"context"
	"testing"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub(t *testing.T) {
	t.Run("filters by session", func(t *testing.T) {
		hub := NewHub(8, zerolog.Nop())
		sub := hub.Subscribe(Filter{SessionKey: "task:a"})
		defer sub.Close()

		hub.Broadcast(Event{Type: eventbus.EventTaskClaimed, TaskID: "a"})
		hub.Broadcast(Event{Type: eventbus.EventTaskClaimed, TaskID: "b"})
		hub.Broadcast(Event{Type: eventbus.EventMessagePublished, Message: &messaging.Message{SessionKey: "task:a"}})

		got := drain(sub)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].TaskID)
		assert.Equal(t, int64(2), got[1].Seq)
	})

	t.Run("slow subscriber is dropped", func(t *testing.T) {
		hub := NewHub(2, zerolog.Nop())
		slow := hub.Subscribe(Filter{})
		fast := hub.Subscribe(Filter{})

		for range 3 {
			hub.Broadcast(Event{Type: eventbus.EventTaskUpdated})
			drain(fast)
		}

		assert.True(t, slow.Dropped())
		assert.False(t, fast.Dropped())
		assert.Equal(t, 1, hub.Len())

		got := drain(slow)
		assert.Len(t, got, 2, "buffered frames are still readable")
		_, open := <-slow.Events()
		assert.False(t, open)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		hub := NewHub(1, zerolog.Nop())
		sub := hub.Subscribe(Filter{})
		sub.Close()
		sub.Close()
		assert.Equal(t, 0, hub.Len())
		assert.False(t, hub.Send(sub, Event{Type: EventInit}))
	})
}

func TestService_Stream(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createTask(t, task.Task{ID: "t1"})
	_, _, err := h.svc.Claim(ctx, "t1", "worker-a")
	require.NoError(t, err)

	sub, err := h.svc.Stream(ctx, Filter{})
	require.NoError(t, err)
	defer sub.Close()

	_, _, err = h.svc.Block(ctx, "t1", "worker-a", "help")
	require.NoError(t, err)

	got := drain(sub)
	require.Len(t, got, 3)

	assert.Equal(t, EventInit, got[0].Type)
	assert.Equal(t, int64(1), got[0].Seq)
	require.Len(t, got[0].Tasks, 1)
	require.Len(t, got[0].Workers, 1)
	assert.Equal(t, "worker-a", got[0].Workers[0].WorkerID)

	assert.Equal(t, eventbus.EventTaskBlocked, got[1].Type)
	assert.Equal(t, eventbus.EventMessagePublished, got[2].Type)
	assert.Equal(t, int64(3), got[2].Seq)
}
