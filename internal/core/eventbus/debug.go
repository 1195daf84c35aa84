package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger registers bus hooks that log all event activity at debug
// level, plus buffer-full drops and subscriber panics. Subscribers registered
// after this call are logged too.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnSubscribe(func(event Event) {
		logger.Debug().Str("event", string(event)).Msg("subscriber registered")
	})

	bus.OnPublish(func(event Event, payload any) {
		e := logger.Debug().Str("event", string(event))
		if id := TaskIDOf(payload); id != "" {
			e = e.Str("task_id", id)
		}
		e.Msg("event fired")
	})

	bus.OnDrop(func(event Event, _ any) {
		logger.Warn().Str("event", string(event)).Msg("event dropped: buffer full")
	})

	bus.OnPanic(func(event Event, _ any, recovered any) {
		logger.Error().
			Str("event", string(event)).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}

// TaskIDOf returns the task an event payload refers to, or "".
func TaskIDOf(payload any) string {
	switch p := payload.(type) {
	case TaskCreatedPayload:
		return p.Task.ID
	case TaskUpdatedPayload:
		return p.Task.ID
	case TaskDeletedPayload:
		return p.TaskID
	case TaskClaimedPayload:
		return p.Task.ID
	case TaskReleasedPayload:
		return p.TaskID
	case TaskBlockedPayload:
		return p.Task.ID
	case TaskApprovedPayload:
		return p.Task.ID
	case TaskCompletedPayload:
		return p.Task.ID
	case TaskResetPayload:
		return p.Task.ID
	case LeaseReclaimedPayload:
		return p.TaskID
	case MessagePublishedPayload:
		return p.Message.TaskID
	case MessageUpdatedPayload:
		return p.Message.TaskID
	case NotificationPublishedPayload:
		return p.Notification.TaskID
	}
	return ""
}
