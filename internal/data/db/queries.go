package db

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// New returns a query set running against db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries holds every SQL statement the stores run.
type Queries struct {
	db DBTX
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Task is a row of the tasks table.
type Task struct {
	ID              string
	Title           string
	Description     string
	Category        string
	Priority        string
	Status          string
	EstimatedEffort string
	FilesInvolved   string
	BlockedReason   string
	ClaimedBy       sql.NullString
	ClaimedAt       sql.NullInt64
	CreatedAt       int64
	UpdatedAt       int64
	CompletedAt     sql.NullInt64
}

const taskColumns = `id, title, description, category, priority, status, estimated_effort,
	files_involved, blocked_reason, claimed_by, claimed_at, created_at, updated_at, completed_at`

// priorityOrder ranks priorities for ORDER BY; unknown values sort last.
const priorityOrder = `CASE priority
	WHEN 'critical' THEN 0
	WHEN 'high' THEN 1
	WHEN 'medium' THEN 2
	WHEN 'low' THEN 3
	ELSE 4 END`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var t Task
	err := r.Scan(
		&t.ID, &t.Title, &t.Description, &t.Category, &t.Priority, &t.Status, &t.EstimatedEffort,
		&t.FilesInvolved, &t.BlockedReason, &t.ClaimedBy, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	return t, err
}

func collectTasks(rows *sql.Rows, err error) ([]Task, error) {
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// InsertTaskParams are the columns written when a task is created.
type InsertTaskParams struct {
	ID              string
	Title           string
	Description     string
	Category        string
	Priority        string
	Status          string
	EstimatedEffort string
	FilesInvolved   string
	CreatedAt       int64
	UpdatedAt       int64
}

func (q *Queries) InsertTask(ctx context.Context, arg InsertTaskParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, category, priority, status, estimated_effort,
			files_involved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Title, arg.Description, arg.Category, arg.Priority, arg.Status, arg.EstimatedEffort,
		arg.FilesInvolved, arg.CreatedAt, arg.UpdatedAt,
	)
	return err
}

func (q *Queries) GetTask(ctx context.Context, id string) (Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasksParams filters ListTasks. Empty strings match everything.
type ListTasksParams struct {
	Status   string
	Category string
}

// ListTasks returns tasks by descending priority, then creation time, then id.
func (q *Queries) ListTasks(ctx context.Context, arg ListTasksParams) ([]Task, error) {
	return collectTasks(q.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE (? = '' OR status = ?) AND (? = '' OR category = ?)
		ORDER BY `+priorityOrder+`, created_at, id`,
		arg.Status, arg.Status, arg.Category, arg.Category,
	))
}

// ListCompletedTasks returns done tasks, most recent completion first.
func (q *Queries) ListCompletedTasks(ctx context.Context, limit int64) ([]Task, error) {
	return collectTasks(q.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'done' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC, id
		LIMIT ?`, limit,
	))
}

// UpdateTaskFieldsParams carries the editable columns.
type UpdateTaskFieldsParams struct {
	ID              string
	Title           string
	Description     string
	Category        string
	Priority        string
	EstimatedEffort string
	FilesInvolved   string
	UpdatedAt       int64
}

func (q *Queries) UpdateTaskFields(ctx context.Context, arg UpdateTaskFieldsParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, category = ?, priority = ?, estimated_effort = ?,
			files_involved = ?, updated_at = ?
		WHERE id = ?`,
		arg.Title, arg.Description, arg.Category, arg.Priority, arg.EstimatedEffort,
		arg.FilesInvolved, arg.UpdatedAt, arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateTaskStateParams carries the lifecycle columns.
type UpdateTaskStateParams struct {
	ID            string
	Status        string
	BlockedReason string
	ClaimedBy     sql.NullString
	ClaimedAt     sql.NullInt64
	CompletedAt   sql.NullInt64
	UpdatedAt     int64
	// ExpectStatus guards against lost updates; the row only changes if it
	// is still in this status.
	ExpectStatus string
}

func (q *Queries) UpdateTaskState(ctx context.Context, arg UpdateTaskStateParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, blocked_reason = ?, claimed_by = ?, claimed_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		arg.Status, arg.BlockedReason, arg.ClaimedBy, arg.ClaimedAt, arg.CompletedAt, arg.UpdatedAt,
		arg.ID, arg.ExpectStatus,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteTask(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TaskDependency is a row of the task_dependencies table.
type TaskDependency struct {
	TaskID    string
	DependsOn string
	Position  int64
}

func (q *Queries) InsertTaskDependency(ctx context.Context, arg TaskDependency) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO task_dependencies (task_id, depends_on, position) VALUES (?, ?, ?)`,
		arg.TaskID, arg.DependsOn, arg.Position,
	)
	return err
}

func (q *Queries) DeleteTaskDependencies(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, taskID)
	return err
}

func (q *Queries) GetTaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT depends_on FROM task_dependencies WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// ListTaskDependencies returns every dependency edge grouped by task.
func (q *Queries) ListTaskDependencies(ctx context.Context) ([]TaskDependency, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT task_id, depends_on, position FROM task_dependencies ORDER BY task_id, position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []TaskDependency
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.TaskID, &d.DependsOn, &d.Position); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// ListDependents returns the ids of tasks that depend on id.
func (q *Queries) ListDependents(ctx context.Context, id string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT task_id FROM task_dependencies WHERE depends_on = ? ORDER BY task_id`, id)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// TaskStatusRow pairs a task id with its status.
type TaskStatusRow struct {
	ID     string
	Status string
}

// ListTaskStatuses returns the status of the given tasks. Missing ids are
// simply absent from the result.
func (q *Queries) ListTaskStatuses(ctx context.Context, ids []string) ([]TaskStatusRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, status FROM tasks WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []TaskStatusRow
	for rows.Next() {
		var r TaskStatusRow
		if err := rows.Scan(&r.ID, &r.Status); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// Lease is a row of the leases table.
type Lease struct {
	Name        string
	Holder      string
	Pid         int64
	ClaimedAt   int64
	HeartbeatAt int64
}

func (q *Queries) UpsertLease(ctx context.Context, arg Lease) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder, pid, claimed_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			holder = excluded.holder,
			pid = excluded.pid,
			claimed_at = excluded.claimed_at,
			heartbeat_at = excluded.heartbeat_at`,
		arg.Name, arg.Holder, arg.Pid, arg.ClaimedAt, arg.HeartbeatAt,
	)
	return err
}

func (q *Queries) GetLease(ctx context.Context, name string) (Lease, error) {
	var l Lease
	err := q.db.QueryRowContext(ctx,
		`SELECT name, holder, pid, claimed_at, heartbeat_at FROM leases WHERE name = ?`, name,
	).Scan(&l.Name, &l.Holder, &l.Pid, &l.ClaimedAt, &l.HeartbeatAt)
	return l, err
}

func (q *Queries) DeleteLease(ctx context.Context, name string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ?`, name)
	return err
}

func (q *Queries) ListLeases(ctx context.Context) ([]Lease, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT name, holder, pid, claimed_at, heartbeat_at FROM leases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Lease
	for rows.Next() {
		var l Lease
		if err := rows.Scan(&l.Name, &l.Holder, &l.Pid, &l.ClaimedAt, &l.HeartbeatAt); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

// Message is a row of the messages table.
type Message struct {
	Seq         int64
	ID          string
	SessionKey  string
	TaskID      string
	Sender      string
	Recipient   string
	Content     string
	Status      string
	CreatedAt   int64
	DeliveredAt sql.NullInt64
	ReadAt      sql.NullInt64
}

const messageColumns = `seq, id, session_key, task_id, sender, recipient, content, status,
	created_at, delivered_at, read_at`

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	err := r.Scan(
		&m.Seq, &m.ID, &m.SessionKey, &m.TaskID, &m.Sender, &m.Recipient, &m.Content, &m.Status,
		&m.CreatedAt, &m.DeliveredAt, &m.ReadAt,
	)
	return m, err
}

func collectMessages(rows *sql.Rows, err error) ([]Message, error) {
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// InsertMessageParams are the columns written when a message is appended.
type InsertMessageParams struct {
	ID         string
	SessionKey string
	TaskID     string
	Sender     string
	Recipient  string
	Content    string
	Status     string
	CreatedAt  int64
}

// InsertMessage appends a message and returns its sequence number.
func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_key, task_id, sender, recipient, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.SessionKey, arg.TaskID, arg.Sender, arg.Recipient, arg.Content, arg.Status, arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) GetMessage(ctx context.Context, id string) (Message, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// LatestMessageCreatedAt returns the newest created_at in the log, or 0.
func (q *Queries) LatestMessageCreatedAt(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	err := q.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages`).Scan(&v)
	return v.Int64, err
}

// UpdateMessageStatusParams carries the delivery columns.
type UpdateMessageStatusParams struct {
	ID          string
	Status      string
	DeliveredAt sql.NullInt64
	ReadAt      sql.NullInt64
}

func (q *Queries) UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, delivered_at = ?, read_at = ? WHERE id = ?`,
		arg.Status, arg.DeliveredAt, arg.ReadAt, arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListPendingMessagesParams filters pending messages. Empty strings match
// everything.
type ListPendingMessagesParams struct {
	Recipient  string
	SessionKey string
	TaskID     string
}

func (q *Queries) ListPendingMessages(ctx context.Context, arg ListPendingMessagesParams) ([]Message, error) {
	return collectMessages(q.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = 'pending'
			AND (? = '' OR recipient = ?)
			AND (? = '' OR session_key = ?)
			AND (? = '' OR task_id = ?)
		ORDER BY seq`,
		arg.Recipient, arg.Recipient, arg.SessionKey, arg.SessionKey, arg.TaskID, arg.TaskID,
	))
}

// ListRecentMessagesParams selects the tail of the log.
type ListRecentMessagesParams struct {
	SessionKey string
	Limit      int64
}

// ListRecentMessages returns the newest messages, newest first.
func (q *Queries) ListRecentMessages(ctx context.Context, arg ListRecentMessagesParams) ([]Message, error) {
	return collectMessages(q.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE (? = '' OR session_key = ?)
		ORDER BY seq DESC
		LIMIT ?`,
		arg.SessionKey, arg.SessionKey, arg.Limit,
	))
}

func (q *Queries) CountMessagesInSession(ctx context.Context, sessionKey string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_key = ?`, sessionKey).Scan(&n)
	return n, err
}

// DeleteOldestMessagesInSessionParams trims a session from the front.
type DeleteOldestMessagesInSessionParams struct {
	SessionKey string
	Limit      int64
}

func (q *Queries) DeleteOldestMessagesInSession(ctx context.Context, arg DeleteOldestMessagesInSessionParams) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM messages WHERE seq IN (
			SELECT seq FROM messages WHERE session_key = ? ORDER BY seq LIMIT ?
		)`,
		arg.SessionKey, arg.Limit,
	)
	return err
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()

	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
