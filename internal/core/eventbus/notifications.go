package eventbus

import (
	"fmt"
	"time"

	"github.com/colonyops/crew/internal/core/notify"
)

// NotificationRouter maps domain events to user-facing notifications.
type NotificationRouter struct {
	bus *EventBus
	now func() time.Time
}

// NewNotificationRouter constructs a router for event-to-notification mappings.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus, now: time.Now}
}

// Register subscribes all supported event mappings.
func (r *NotificationRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeTaskBlocked(func(p TaskBlockedPayload) {
		r.notifyf(notify.LevelWarning, p.Task.ID, "task %s %q blocked: %s", p.Task.ID, p.Task.Title, p.Task.BlockedReason)
	})

	r.bus.SubscribeTaskApproved(func(p TaskApprovedPayload) {
		r.notifyf(notify.LevelInfo, p.Task.ID, "task %s approved by %s", p.Task.ID, orDefault(p.By, "human"))
	})

	r.bus.SubscribeTaskCompleted(func(p TaskCompletedPayload) {
		msg := fmt.Sprintf("task %s %q completed", p.Task.ID, p.Task.Title)
		if n := len(p.Unblocked); n > 0 {
			msg += fmt.Sprintf(", %d task(s) now available", n)
		}
		r.notifyf(notify.LevelInfo, p.Task.ID, "%s", msg)
	})

	r.bus.SubscribeLeaseReclaimed(func(p LeaseReclaimedPayload) {
		if p.Malformed {
			r.notifyf(notify.LevelError, p.TaskID, "malformed lease on task %s removed", p.TaskID)
			return
		}
		r.notifyf(notify.LevelWarning, p.TaskID, "task %s reclaimed from stale worker %s", p.TaskID, p.Lease.Holder)
	})
}

func (r *NotificationRouter) notifyf(level notify.Level, taskID, format string, args ...any) {
	r.bus.PublishNotificationPublished(NotificationPublishedPayload{
		Notification: notify.Notification{
			Level:     level,
			Message:   fmt.Sprintf(format, args...),
			TaskID:    taskID,
			CreatedAt: r.now(),
		},
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
