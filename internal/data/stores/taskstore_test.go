package stores

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err, "Open")
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestTaskStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		created, err := store.Create(ctx, task.Task{
			Title:           "Write parser",
			Category:        "core",
			Priority:        task.PriorityHigh,
			Status:          task.StatusDone, // ignored
			EstimatedEffort: task.EffortSmall,
			FilesInvolved:   []string{"internal/parser/parser.go"},
		})
		require.NoError(t, err)
		assert.Len(t, created.ID, 8)
		assert.Equal(t, task.StatusTodo, created.Status)
		assert.Nil(t, created.CompletedAt)

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Write parser", got.Title)
		assert.Equal(t, task.PriorityHigh, got.Priority)
		assert.Equal(t, task.StatusTodo, got.Status)
		assert.Equal(t, []string{"internal/parser/parser.go"}, got.FilesInvolved)
		assert.Equal(t, created.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())
	})

	t.Run("default priority", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		created, err := store.Create(ctx, task.Task{ID: "t1", Title: "Untitled"})
		require.NoError(t, err)
		assert.Equal(t, task.PriorityMedium, created.Priority)
	})

	t.Run("duplicate id", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Create(ctx, task.Task{ID: "t1", Title: "First"})
		require.NoError(t, err)

		_, err = store.Create(ctx, task.Task{ID: "t1", Title: "Second"})
		assert.ErrorIs(t, err, task.ErrDuplicate)
	})

	t.Run("invalid task", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Create(ctx, task.Task{ID: "t1", Title: "  "})
		assert.Error(t, err)

		_, err = store.Get(ctx, "t1")
		assert.ErrorIs(t, err, task.ErrNotFound, "rejected task must not be stored")
	})

	t.Run("get not found", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("dependencies keep order", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Create(ctx, task.Task{ID: "t3", Title: "Ship", Dependencies: []string{"t2", "t1"}})
		require.NoError(t, err)

		got, err := store.Get(ctx, "t3")
		require.NoError(t, err)
		assert.Equal(t, []string{"t2", "t1"}, got.Dependencies)

		dependents, err := store.Dependents(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"t3"}, dependents)
	})

	t.Run("list order and filters", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))
		base := time.Now()

		fixtures := []task.Task{
			{ID: "low", Title: "Low", Priority: task.PriorityLow, Category: "docs", CreatedAt: base},
			{ID: "crit", Title: "Crit", Priority: task.PriorityCritical, Category: "core", CreatedAt: base.Add(3 * time.Second)},
			{ID: "high-late", Title: "High late", Priority: task.PriorityHigh, Category: "core", CreatedAt: base.Add(2 * time.Second)},
			{ID: "high-early", Title: "High early", Priority: task.PriorityHigh, Category: "core", CreatedAt: base.Add(time.Second), FilesInvolved: []string{"cmd/main.go"}},
		}
		for _, f := range fixtures {
			_, err := store.Create(ctx, f)
			require.NoError(t, err)
		}

		all, err := store.List(ctx, task.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"crit", "high-early", "high-late", "low"}, taskIDs(all))

		core, err := store.List(ctx, task.ListFilter{Category: "core"})
		require.NoError(t, err)
		assert.Equal(t, []string{"crit", "high-early", "high-late"}, taskIDs(core))

		byFile, err := store.List(ctx, task.ListFilter{File: "cmd/**"})
		require.NoError(t, err)
		assert.Equal(t, []string{"high-early"}, taskIDs(byFile))

		done, err := store.List(ctx, task.ListFilter{Status: task.StatusDone})
		require.NoError(t, err)
		assert.Empty(t, done)
	})

	t.Run("update", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Create(ctx, task.Task{ID: "t1", Title: "Old", Dependencies: []string{"a"}})
		require.NoError(t, err)

		title := "New"
		deps := []string{"b", "c"}
		updated, err := store.Update(ctx, "t1", task.Patch{Title: &title, Dependencies: &deps})
		require.NoError(t, err)
		assert.Equal(t, "New", updated.Title)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "New", got.Title)
		assert.Equal(t, []string{"b", "c"}, got.Dependencies)
		assert.Equal(t, task.StatusTodo, got.Status)
	})

	t.Run("update rejects invalid patch", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		_, err := store.Create(ctx, task.Task{ID: "t1", Title: "Old"})
		require.NoError(t, err)

		deps := []string{"t1"}
		_, err = store.Update(ctx, "t1", task.Patch{Dependencies: &deps})
		assert.Error(t, err)

		_, err = store.Update(ctx, "missing", task.Patch{})
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("delete removes lease", func(t *testing.T) {
		database := openTestDB(t)
		store := NewTaskStore(database)
		leases := NewLeaseStore(database)

		_, err := store.Create(ctx, task.Task{ID: "t1", Title: "Doomed"})
		require.NoError(t, err)
		require.NoError(t, leases.Put(ctx, testLease("task:t1", "w1", time.Now())))

		existed, err := store.Delete(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, existed)

		all, err := leases.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		existed, err = store.Delete(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("save state guards status", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))

		created, err := store.Create(ctx, task.Task{ID: "t1", Title: "Work"})
		require.NoError(t, err)

		claimed, err := task.Transition(created, task.Change{To: task.StatusInProgress, Holder: "w1", At: time.Now()})
		require.NoError(t, err)
		require.NoError(t, store.SaveState(ctx, claimed, task.StatusTodo))

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, got.Status)
		assert.Equal(t, "w1", got.ClaimedBy)
		require.NotNil(t, got.ClaimedAt)

		// A second writer that still believes the task is todo loses.
		err = store.SaveState(ctx, claimed, task.StatusTodo)
		var invalid *task.InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, task.StatusInProgress, invalid.From)
	})

	t.Run("corrupt rows", func(t *testing.T) {
		database := openTestDB(t)
		store := NewTaskStore(database)

		_, err := store.Create(ctx, task.Task{ID: "good", Title: "Good"})
		require.NoError(t, err)
		_, err = database.Conn().ExecContext(ctx, `
			INSERT INTO tasks (id, title, priority, status, created_at, updated_at)
			VALUES ('bad', 'Bad', 'urgent', 'todo', 1, 1)`)
		require.NoError(t, err)

		all, err := store.List(ctx, task.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"good"}, taskIDs(all))

		_, err = store.Get(ctx, "bad")
		var corrupt *task.CorruptRecordError
		assert.ErrorAs(t, err, &corrupt)
	})

	t.Run("statuses and completed", func(t *testing.T) {
		store := NewTaskStore(openTestDB(t))
		now := time.Now()

		for _, id := range []string{"a", "b"} {
			created, err := store.Create(ctx, task.Task{ID: id, Title: id})
			require.NoError(t, err)

			claimed, err := task.Transition(created, task.Change{To: task.StatusInProgress, Holder: "w", At: now})
			require.NoError(t, err)
			require.NoError(t, store.SaveState(ctx, claimed, task.StatusTodo))

			if id == "a" {
				done, err := task.Transition(claimed, task.Change{To: task.StatusDone, At: now})
				require.NoError(t, err)
				require.NoError(t, store.SaveState(ctx, done, task.StatusInProgress))
			}
		}

		statuses, err := store.Statuses(ctx, []string{"a", "b", "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]task.Status{"a": task.StatusDone, "b": task.StatusInProgress}, statuses)

		history, err := store.Completed(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, taskIDs(history))
	})
}

func taskIDs(tasks []task.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
