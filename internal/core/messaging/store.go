// Package messaging defines the message log exchanged between workers, the
// coordinator and the human-facing approval channel.
//
// Conversations are grouped by session key. Task conversations use
// "task:<id>"; other sessions are free-form.
package messaging

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidStatus is returned for a status change that would move
	// backward.
	ErrInvalidStatus = errors.New("invalid message status change")
)

// PendingFilter selects pending messages for pull-based consumers.
type PendingFilter struct {
	Recipient  Recipient // empty means any
	SessionKey string    // empty means all sessions
	TaskID     string    // empty means all tasks
}

// Store persists messages.
type Store interface {
	// Append stores m, assigning Seq. ID, Status and CreatedAt must be set.
	Append(ctx context.Context, m Message) (Message, error)

	// Get returns a message by ID.
	Get(ctx context.Context, id string) (Message, error)

	// UpdateStatus persists m's status fields.
	UpdateStatus(ctx context.Context, m Message) error

	// Pending returns pending messages matching filter ordered by Seq.
	Pending(ctx context.Context, filter PendingFilter) ([]Message, error)

	// List returns the most recent limit messages of a session ordered by
	// Seq. An empty session lists across all sessions.
	List(ctx context.Context, sessionKey string, limit int) ([]Message, error)
}
