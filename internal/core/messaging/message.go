package messaging

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Validation errors for Message.
var (
	ErrEmptySession    = errors.New("session key is required")
	ErrEmptyContent    = errors.New("content is required")
	ErrPayloadTooLarge = errors.New("content exceeds maximum size")
	ErrInvalidSender   = errors.New("unknown sender")
)

// MaxContentSize is the maximum allowed content size in bytes (1MB).
const MaxContentSize = 1 << 20

// Sender identifies which party wrote a message.
type Sender string

const (
	SenderWorker Sender = "worker"
	SenderHuman  Sender = "human"
	SenderSystem Sender = "system"
)

func (s Sender) Valid() bool {
	switch s {
	case SenderWorker, SenderHuman, SenderSystem:
		return true
	}
	return false
}

// Recipient is the party a message is addressed to. It is derived from the
// sender: humans write to workers, everyone else writes to humans.
type Recipient string

const (
	RecipientWorker Recipient = "worker"
	RecipientHuman  Recipient = "human"
)

// ParseRecipient converts a query value into a Recipient. Empty means any.
func ParseRecipient(s string) (Recipient, error) {
	switch r := Recipient(s); r {
	case "", RecipientWorker, RecipientHuman:
		return r, nil
	}
	return "", fmt.Errorf("unknown recipient %q", s)
}

// RecipientOf returns who a message from sender is addressed to.
func RecipientOf(sender Sender) Recipient {
	if sender == SenderHuman {
		return RecipientWorker
	}
	return RecipientHuman
}

// ReplySender is the sender used for a response to a message from s.
func ReplySender(s Sender) Sender {
	if s == SenderHuman {
		return SenderWorker
	}
	return SenderHuman
}

// Status is the delivery state of a message. It only moves forward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusOrder = []Status{StatusPending, StatusDelivered, StatusRead}

func (s Status) Valid() bool {
	return slices.Contains(statusOrder, s)
}

// Before reports whether s comes earlier than o in the delivery order.
func (s Status) Before(o Status) bool {
	return slices.Index(statusOrder, s) < slices.Index(statusOrder, o)
}

// Message is one entry in the append-only communication log.
type Message struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	SessionKey  string     `json:"sessionKey"`
	TaskID      string     `json:"taskId,omitempty"`
	Sender      Sender     `json:"sender"`
	Content     string     `json:"content"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// Recipient returns who the message is addressed to.
func (m Message) Recipient() Recipient {
	return RecipientOf(m.Sender)
}

// Validate checks the fields a publisher controls.
func (m *Message) Validate() error {
	switch {
	case m.SessionKey == "":
		return ErrEmptySession
	case !m.Sender.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidSender, m.Sender)
	case m.Content == "":
		return ErrEmptyContent
	case len(m.Content) > MaxContentSize:
		return ErrPayloadTooLarge
	}
	return nil
}

// Advance returns m moved to status to at the given time. Moving to the
// current status is a no-op; moving backward fails with ErrInvalidStatus.
// Skipping from pending to read stamps DeliveredAt as well.
func (m Message) Advance(to Status, at time.Time) (Message, bool, error) {
	if !to.Valid() {
		return m, false, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, to)
	}
	if to == m.Status {
		return m, false, nil
	}
	if to.Before(m.Status) {
		return m, false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, m.Status, to)
	}

	if m.DeliveredAt == nil {
		t := at
		m.DeliveredAt = &t
	}
	if to == StatusRead {
		t := at
		m.ReadAt = &t
	}
	m.Status = to
	return m, true, nil
}
