// Package notify defines user-facing notifications raised by the coordinator.
package notify

import (
	"context"
	"time"
)

// Level represents the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification represents a single notification event.
type Notification struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	TaskID    string    `json:"taskId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier delivers notifications to an outside channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
