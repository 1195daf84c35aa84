// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within crew.
package eventbus

import (
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/notify"
	"github.com/colonyops/crew/internal/core/task"
)

// Event names a kind of event carried by the bus.
type Event string

const (
	// Keep list sorted A-Z
	EventLeaseReclaimed        Event = "lease.reclaimed"
	EventMessagePublished      Event = "message.published"
	EventMessageUpdated        Event = "message.updated"
	EventNotificationPublished Event = "notification.published"
	EventTaskApproved          Event = "task.approved"
	EventTaskBlocked           Event = "task.blocked"
	EventTaskClaimed           Event = "task.claimed"
	EventTaskCompleted         Event = "task.completed"
	EventTaskCreated           Event = "task.created"
	EventTaskDeleted           Event = "task.deleted"
	EventTaskReleased          Event = "task.released"
	EventTaskReset             Event = "task.reset"
	EventTaskUpdated           Event = "task.updated"
)

// TaskCreatedPayload is emitted when a task is added.
type TaskCreatedPayload struct {
	Task task.Task
}

// TaskUpdatedPayload is emitted when editable task fields change.
type TaskUpdatedPayload struct {
	Task task.Task
}

// TaskDeletedPayload is emitted when a task is administratively removed.
type TaskDeletedPayload struct {
	TaskID string
}

// TaskClaimedPayload is emitted when a worker takes a task.
type TaskClaimedPayload struct {
	Task  task.Task
	Lease lease.Lease
}

// TaskReleasedPayload is emitted when a worker gives up its lease without
// finishing.
type TaskReleasedPayload struct {
	TaskID   string
	WorkerID string
}

// TaskBlockedPayload is emitted when a worker blocks on human input.
type TaskBlockedPayload struct {
	Task   task.Task
	Notice messaging.Message
}

// TaskApprovedPayload is emitted when a human unblocks a task.
type TaskApprovedPayload struct {
	Task task.Task
	By   string
}

// TaskCompletedPayload is emitted when a task reaches done.
type TaskCompletedPayload struct {
	Task      task.Task
	Unblocked []task.Task
}

// ResetCause says why a task went back to todo.
type ResetCause string

const (
	ResetCauseAdmin ResetCause = "admin"
	ResetCauseStale ResetCause = "stale"
)

// TaskResetPayload is emitted when a task returns to todo.
type TaskResetPayload struct {
	Task  task.Task
	Cause ResetCause
}

// LeaseReclaimedPayload is emitted when the sweep removes a stale lease.
type LeaseReclaimedPayload struct {
	TaskID    string
	Lease     lease.Lease
	Malformed bool
}

// MessagePublishedPayload is emitted when a message is appended.
type MessagePublishedPayload struct {
	Message messaging.Message
}

// MessageUpdatedPayload is emitted when a message status moves forward.
type MessageUpdatedPayload struct {
	Message messaging.Message
}

// NotificationPublishedPayload carries a user-facing notification.
type NotificationPublishedPayload struct {
	Notification notify.Notification
}
