package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/data/db"
	"github.com/google/uuid"
)

// MessageStore implements messaging.Store using SQLite.
type MessageStore struct {
	c         conn
	retention int
	now       func() time.Time
}

var _ messaging.Store = (*MessageStore)(nil)

// NewMessageStore creates a SQLite-backed message store. retention caps the
// messages kept per session; zero keeps everything.
func NewMessageStore(database *db.DB, retention int) *MessageStore {
	return &MessageStore{c: conn{db: database, q: database.Queries()}, retention: retention, now: time.Now}
}

// Append stores m and returns it with Seq assigned. Missing ID, Status and
// CreatedAt are filled in. The oldest messages of the session are pruned in
// the same transaction once retention is exceeded.
func (s *MessageStore) Append(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	if err := m.Validate(); err != nil {
		return messaging.Message{}, err
	}
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return messaging.Message{}, fmt.Errorf("generate message id: %w", err)
		}
		m.ID = id.String()
	}
	if m.Status == "" {
		m.Status = messaging.StatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	err := s.c.tx(ctx, func(q *db.Queries) error {
		seq, err := q.InsertMessage(ctx, db.InsertMessageParams{
			ID:         m.ID,
			SessionKey: m.SessionKey,
			TaskID:     m.TaskID,
			Sender:     string(m.Sender),
			Recipient:  string(m.Recipient()),
			Content:    m.Content,
			Status:     string(m.Status),
			CreatedAt:  m.CreatedAt.UnixNano(),
		})
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		m.Seq = seq

		if s.retention <= 0 {
			return nil
		}

		count, err := q.CountMessagesInSession(ctx, m.SessionKey)
		if err != nil {
			return fmt.Errorf("count session messages: %w", err)
		}
		if excess := count - int64(s.retention); excess > 0 {
			err := q.DeleteOldestMessagesInSession(ctx, db.DeleteOldestMessagesInSessionParams{
				SessionKey: m.SessionKey,
				Limit:      excess,
			})
			if err != nil {
				return fmt.Errorf("prune session messages: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return messaging.Message{}, err
	}

	return m, nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (messaging.Message, error) {
	row, err := s.c.q.GetMessage(ctx, id)
	if IsNotFoundError(err) {
		return messaging.Message{}, messaging.ErrNotFound
	}
	if err != nil {
		return messaging.Message{}, fmt.Errorf("get message: %w", err)
	}
	return rowToMessage(row), nil
}

// UpdateStatus writes the status and delivery timestamps of m.
func (s *MessageStore) UpdateStatus(ctx context.Context, m messaging.Message) error {
	n, err := s.c.q.UpdateMessageStatus(ctx, db.UpdateMessageStatusParams{
		ID:          m.ID,
		Status:      string(m.Status),
		DeliveredAt: toNullTime(m.DeliveredAt),
		ReadAt:      toNullTime(m.ReadAt),
	})
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if n == 0 {
		return messaging.ErrNotFound
	}
	return nil
}

func (s *MessageStore) Pending(ctx context.Context, filter messaging.PendingFilter) ([]messaging.Message, error) {
	rows, err := s.c.q.ListPendingMessages(ctx, db.ListPendingMessagesParams{
		Recipient:  string(filter.Recipient),
		SessionKey: filter.SessionKey,
		TaskID:     filter.TaskID,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}
	return rowsToMessages(rows), nil
}

// List returns the newest limit messages of a session in seq order.
func (s *MessageStore) List(ctx context.Context, sessionKey string, limit int) ([]messaging.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.c.q.ListRecentMessages(ctx, db.ListRecentMessagesParams{
		SessionKey: sessionKey,
		Limit:      int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := rowsToMessages(rows)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestCreatedAt returns the creation time of the newest stored message, or
// the zero time for an empty log.
func (s *MessageStore) LatestCreatedAt(ctx context.Context) (time.Time, error) {
	v, err := s.c.q.LatestMessageCreatedAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest message time: %w", err)
	}
	return fromUnixNano(v), nil
}

func rowsToMessages(rows []db.Message) []messaging.Message {
	msgs := make([]messaging.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, rowToMessage(row))
	}
	return msgs
}

func rowToMessage(row db.Message) messaging.Message {
	return messaging.Message{
		ID:          row.ID,
		Seq:         row.Seq,
		SessionKey:  row.SessionKey,
		TaskID:      row.TaskID,
		Sender:      messaging.Sender(row.Sender),
		Content:     row.Content,
		Status:      messaging.Status(row.Status),
		CreatedAt:   time.Unix(0, row.CreatedAt),
		DeliveredAt: fromNullTime(row.DeliveredAt),
		ReadAt:      fromNullTime(row.ReadAt),
	}
}
