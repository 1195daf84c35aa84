package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/crew/internal/core/logging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/db"
	"github.com/colonyops/crew/pkg/randid"
)

// TaskStore implements task.Store using SQLite.
type TaskStore struct {
	c   conn
	now func() time.Time
}

var _ task.Store = (*TaskStore)(nil)

// NewTaskStore creates a SQLite-backed task store over the connection pool.
func NewTaskStore(database *db.DB) *TaskStore {
	return &TaskStore{c: conn{db: database, q: database.Queries()}, now: time.Now}
}

// Get returns a task by id. A row that cannot be decoded is reported as
// *task.CorruptRecordError.
func (s *TaskStore) Get(ctx context.Context, id string) (task.Task, error) {
	row, err := s.c.q.GetTask(ctx, id)
	if IsNotFoundError(err) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("get task: %w", err)
	}

	deps, err := s.c.q.GetTaskDependencies(ctx, id)
	if err != nil {
		return task.Task{}, fmt.Errorf("get task dependencies: %w", err)
	}

	return rowToTask(row, deps)
}

// List returns tasks matching filter in queue order. Corrupt rows are logged
// and skipped.
func (s *TaskStore) List(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	rows, err := s.c.q.ListTasks(ctx, db.ListTasksParams{
		Status:   string(filter.Status),
		Category: filter.Category,
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	edges, err := s.c.q.ListTaskDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list task dependencies: %w", err)
	}
	deps := make(map[string][]string)
	for _, e := range edges {
		deps[e.TaskID] = append(deps[e.TaskID], e.DependsOn)
	}

	tasks := make([]task.Task, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTask(row, deps[row.ID])
		if err != nil {
			l := logging.Component("stores")
			l.Warn().Err(err).Str("task_id", row.ID).Msg("skipping corrupt task")
			continue
		}
		if filter.Match(t) {
			tasks = append(tasks, t)
		}
	}

	return tasks, nil
}

// Create stores t as a new todo task. It generates an id when t.ID is empty
// and returns task.ErrDuplicate when the id is taken.
func (s *TaskStore) Create(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ID == "" {
		t.ID = randid.TaskID()
	}
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}

	now := s.now()
	t.Status = task.StatusTodo
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.CompletedAt = nil
	t.BlockedReason = ""
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt

	files, err := encodeFiles(t.FilesInvolved)
	if err != nil {
		return task.Task{}, err
	}

	err = s.c.tx(ctx, func(q *db.Queries) error {
		err := q.InsertTask(ctx, db.InsertTaskParams{
			ID:              t.ID,
			Title:           t.Title,
			Description:     t.Description,
			Category:        t.Category,
			Priority:        string(t.Priority),
			Status:          string(t.Status),
			EstimatedEffort: string(t.EstimatedEffort),
			FilesInvolved:   files,
			CreatedAt:       t.CreatedAt.UnixNano(),
			UpdatedAt:       t.UpdatedAt.UnixNano(),
		})
		if err != nil {
			if isUniqueConstraintError(err) {
				return task.ErrDuplicate
			}
			return fmt.Errorf("insert task: %w", err)
		}
		return writeDependencies(ctx, q, t.ID, t.Dependencies)
	})
	if err != nil {
		return task.Task{}, err
	}

	return t, nil
}

// Update applies p to the editable fields of a task.
func (s *TaskStore) Update(ctx context.Context, id string, p task.Patch) (task.Task, error) {
	var updated task.Task
	err := s.c.tx(ctx, func(q *db.Queries) error {
		current, err := (&TaskStore{c: conn{q: q}, now: s.now}).Get(ctx, id)
		if err != nil {
			return err
		}

		next := p.Apply(current)
		if err := next.Validate(); err != nil {
			return err
		}
		next.UpdatedAt = s.now()

		files, err := encodeFiles(next.FilesInvolved)
		if err != nil {
			return err
		}

		_, err = q.UpdateTaskFields(ctx, db.UpdateTaskFieldsParams{
			ID:              id,
			Title:           next.Title,
			Description:     next.Description,
			Category:        next.Category,
			Priority:        string(next.Priority),
			EstimatedEffort: string(next.EstimatedEffort),
			FilesInvolved:   files,
			UpdatedAt:       next.UpdatedAt.UnixNano(),
		})
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if p.Dependencies != nil {
			if err := q.DeleteTaskDependencies(ctx, id); err != nil {
				return fmt.Errorf("clear task dependencies: %w", err)
			}
			if err := writeDependencies(ctx, q, id, next.Dependencies); err != nil {
				return err
			}
		}

		updated = next
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}

	return updated, nil
}

// Delete removes a task, its dependency edges and any lease on it. It
// reports whether the task existed.
func (s *TaskStore) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := s.c.tx(ctx, func(q *db.Queries) error {
		n, err := q.DeleteTask(ctx, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		existed = n > 0
		if err := q.DeleteLease(ctx, task.SessionKey(id)); err != nil {
			return fmt.Errorf("delete task lease: %w", err)
		}
		return nil
	})
	return existed, err
}

// SaveState persists the lifecycle fields of t. The write only applies if
// the stored status still equals from; otherwise the actual status is
// reported as *task.InvalidTransitionError.
func (s *TaskStore) SaveState(ctx context.Context, t task.Task, from task.Status) error {
	if err := t.CheckInvariants(); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	n, err := s.c.q.UpdateTaskState(ctx, db.UpdateTaskStateParams{
		ID:            t.ID,
		Status:        string(t.Status),
		BlockedReason: t.BlockedReason,
		ClaimedBy:     toNullString(t.ClaimedBy),
		ClaimedAt:     toNullTime(t.ClaimedAt),
		CompletedAt:   toNullTime(t.CompletedAt),
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		ExpectStatus:  string(from),
	})
	if err != nil {
		return fmt.Errorf("save task state: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := s.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	return &task.InvalidTransitionError{TaskID: t.ID, From: current.Status, To: t.Status}
}

// Statuses returns the status of each id that exists.
func (s *TaskStore) Statuses(ctx context.Context, ids []string) (map[string]task.Status, error) {
	rows, err := s.c.q.ListTaskStatuses(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list task statuses: %w", err)
	}

	out := make(map[string]task.Status, len(rows))
	for _, r := range rows {
		out[r.ID] = task.Status(r.Status)
	}
	return out, nil
}

// Dependents returns the ids of tasks that list id as a dependency.
func (s *TaskStore) Dependents(ctx context.Context, id string) ([]string, error) {
	ids, err := s.c.q.ListDependents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	return ids, nil
}

// Completed returns up to limit done tasks, most recently completed first.
func (s *TaskStore) Completed(ctx context.Context, limit int) ([]task.Task, error) {
	rows, err := s.c.q.ListCompletedTasks(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}

	tasks := make([]task.Task, 0, len(rows))
	for _, row := range rows {
		deps, err := s.c.q.GetTaskDependencies(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("get task dependencies: %w", err)
		}
		t, err := rowToTask(row, deps)
		if err != nil {
			l := logging.Component("stores")
			l.Warn().Err(err).Str("task_id", row.ID).Msg("skipping corrupt task")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func writeDependencies(ctx context.Context, q *db.Queries, id string, deps []string) error {
	for i, dep := range deps {
		err := q.InsertTaskDependency(ctx, db.TaskDependency{TaskID: id, DependsOn: dep, Position: int64(i)})
		if err != nil {
			return fmt.Errorf("insert task dependency: %w", err)
		}
	}
	return nil
}

func encodeFiles(files []string) (string, error) {
	if len(files) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("marshal files: %w", err)
	}
	return string(data), nil
}

// rowToTask converts a db.Task to a task.Task, rejecting rows that carry
// unknown enum values or break the status invariants.
func rowToTask(row db.Task, deps []string) (task.Task, error) {
	corrupt := func(err error) (task.Task, error) {
		return task.Task{}, &task.CorruptRecordError{TaskID: row.ID, Err: err}
	}

	var files []string
	if row.FilesInvolved != "" {
		if err := json.Unmarshal([]byte(row.FilesInvolved), &files); err != nil {
			return corrupt(fmt.Errorf("files_involved: %w", err))
		}
	}
	if len(files) == 0 {
		files = nil
	}

	t := task.Task{
		ID:              row.ID,
		Title:           row.Title,
		Description:     row.Description,
		Category:        row.Category,
		Priority:        task.Priority(row.Priority),
		Status:          task.Status(row.Status),
		Dependencies:    deps,
		EstimatedEffort: task.Effort(row.EstimatedEffort),
		FilesInvolved:   files,
		BlockedReason:   row.BlockedReason,
		ClaimedBy:       row.ClaimedBy.String,
		ClaimedAt:       fromNullTime(row.ClaimedAt),
		CreatedAt:       time.Unix(0, row.CreatedAt),
		UpdatedAt:       time.Unix(0, row.UpdatedAt),
		CompletedAt:     fromNullTime(row.CompletedAt),
	}

	if !t.Priority.Valid() {
		return corrupt(fmt.Errorf("unknown priority %q", row.Priority))
	}
	if !t.EstimatedEffort.Valid() {
		return corrupt(fmt.Errorf("unknown effort %q", row.EstimatedEffort))
	}
	if err := t.CheckInvariants(); err != nil {
		return corrupt(err)
	}

	return t, nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
