package coordinator

import (
	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
)

// emitter buffers the announcements of one mutation. Nothing leaves it until
// the transaction has committed, so observers never see rolled-back state.
type emitter struct {
	publish []func(*eventbus.EventBus)
	frames  []Event
}

func (e *emitter) reset() {
	e.publish = e.publish[:0]
	e.frames = e.frames[:0]
}

func (e *emitter) add(fn func(*eventbus.EventBus), frame Event) {
	e.publish = append(e.publish, fn)
	e.frames = append(e.frames, frame)
}

func (e *emitter) flush(s *Service) {
	at := s.now()
	for i, frame := range e.frames {
		if s.bus != nil {
			e.publish[i](s.bus)
		}
		frame.At = at
		s.hub.Broadcast(frame)
	}
}

func ptr[T any](v T) *T { return &v }

func (e *emitter) taskCreated(t task.Task) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskCreated(eventbus.TaskCreatedPayload{Task: t})
	}, Event{Type: eventbus.EventTaskCreated, TaskID: t.ID, Task: ptr(t)})
}

func (e *emitter) taskUpdated(t task.Task) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskUpdated(eventbus.TaskUpdatedPayload{Task: t})
	}, Event{Type: eventbus.EventTaskUpdated, TaskID: t.ID, Task: ptr(t)})
}

func (e *emitter) taskDeleted(id string) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskDeleted(eventbus.TaskDeletedPayload{TaskID: id})
	}, Event{Type: eventbus.EventTaskDeleted, TaskID: id})
}

func (e *emitter) taskClaimed(t task.Task, l lease.Lease) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskClaimed(eventbus.TaskClaimedPayload{Task: t, Lease: l})
	}, Event{Type: eventbus.EventTaskClaimed, TaskID: t.ID, WorkerID: l.Holder, Task: ptr(t), Lease: ptr(l)})
}

func (e *emitter) taskReleased(id, worker string) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskReleased(eventbus.TaskReleasedPayload{TaskID: id, WorkerID: worker})
	}, Event{Type: eventbus.EventTaskReleased, TaskID: id, WorkerID: worker})
}

func (e *emitter) taskBlocked(t task.Task, notice messaging.Message) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskBlocked(eventbus.TaskBlockedPayload{Task: t, Notice: notice})
	}, Event{Type: eventbus.EventTaskBlocked, TaskID: t.ID, WorkerID: t.ClaimedBy, Task: ptr(t)})
	e.messagePublished(notice)
}

func (e *emitter) taskApproved(t task.Task, by string) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskApproved(eventbus.TaskApprovedPayload{Task: t, By: by})
	}, Event{Type: eventbus.EventTaskApproved, TaskID: t.ID, WorkerID: t.ClaimedBy, Task: ptr(t)})
}

func (e *emitter) taskCompleted(t task.Task, worker string, unblocked []task.Task) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskCompleted(eventbus.TaskCompletedPayload{Task: t, Unblocked: unblocked})
	}, Event{Type: eventbus.EventTaskCompleted, TaskID: t.ID, WorkerID: worker, Task: ptr(t), Unblocked: unblocked})
}

func (e *emitter) taskReset(t task.Task, cause eventbus.ResetCause) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishTaskReset(eventbus.TaskResetPayload{Task: t, Cause: cause})
	}, Event{Type: eventbus.EventTaskReset, TaskID: t.ID, Task: ptr(t), Cause: string(cause)})
}

func (e *emitter) leaseReclaimed(taskID string, l lease.Lease) {
	malformed := l.Validate() != nil
	e.add(func(b *eventbus.EventBus) {
		b.PublishLeaseReclaimed(eventbus.LeaseReclaimedPayload{TaskID: taskID, Lease: l, Malformed: malformed})
	}, Event{Type: eventbus.EventLeaseReclaimed, TaskID: taskID, WorkerID: l.Holder, Lease: ptr(l)})
}

func (e *emitter) messagePublished(m messaging.Message) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishMessagePublished(eventbus.MessagePublishedPayload{Message: m})
	}, Event{Type: eventbus.EventMessagePublished, TaskID: m.TaskID, Message: ptr(m)})
}

func (e *emitter) messageUpdated(m messaging.Message) {
	e.add(func(b *eventbus.EventBus) {
		b.PublishMessageUpdated(eventbus.MessageUpdatedPayload{Message: m})
	}, Event{Type: eventbus.EventMessageUpdated, TaskID: m.TaskID, Message: ptr(m)})
}
