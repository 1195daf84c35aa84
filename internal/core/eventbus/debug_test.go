package eventbus_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/eventbus/testbus"
	"github.com/colonyops/crew/internal/core/task"
)

func TestRegisterDebugLogger(t *testing.T) {
	tb := testbus.New(t)

	var buf bytes.Buffer
	eventbus.RegisterDebugLogger(tb.EventBus, zerolog.New(&buf).Level(zerolog.DebugLevel))

	tb.PublishTaskCreated(eventbus.TaskCreatedPayload{Task: task.Task{ID: "t1"}})
	tb.AssertPublished(t, eventbus.EventTaskCreated)

	assert.Contains(t, buf.String(), `"event":"task.created"`)
	assert.Contains(t, buf.String(), `"task_id":"t1"`)

	tb.SubscribeTaskDeleted(func(eventbus.TaskDeletedPayload) {})
	assert.Contains(t, buf.String(), `"event":"task.deleted","message":"subscriber registered"`)
}

func TestEventBus_PanicIsolation(t *testing.T) {
	tb := testbus.New(t)

	var panicked bool
	tb.OnPanic(func(eventbus.Event, any, any) { panicked = true })
	tb.SubscribeTaskDeleted(func(eventbus.TaskDeletedPayload) { panic("boom") })

	tb.PublishTaskDeleted(eventbus.TaskDeletedPayload{TaskID: "t1"})
	tb.PublishTaskCreated(eventbus.TaskCreatedPayload{Task: task.Task{ID: "t2"}})

	tb.AssertPublished(t, eventbus.EventTaskCreated)
	assert.True(t, panicked)
	assert.Len(t, tb.Of(eventbus.EventTaskDeleted), 1)
}

func TestEventBus_Order(t *testing.T) {
	tb := testbus.New(t)

	for _, id := range []string{"a", "b", "c"} {
		tb.PublishTaskDeleted(eventbus.TaskDeletedPayload{TaskID: id})
	}
	tb.PublishTaskCreated(eventbus.TaskCreatedPayload{})
	tb.AssertPublished(t, eventbus.EventTaskCreated)

	var ids []string
	for _, p := range tb.Of(eventbus.EventTaskDeleted) {
		ids = append(ids, p.(eventbus.TaskDeletedPayload).TaskID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
