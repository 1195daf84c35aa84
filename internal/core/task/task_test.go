package task

import (
	"slices"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_Validate(t *testing.T) {
	base := Task{ID: "t1", Title: "Write docs", Priority: PriorityHigh}

	tests := []struct {
		name      string
		mutate    func(*Task)
		wantField string
	}{
		{name: "valid", mutate: func(*Task) {}},
		{name: "blank title", mutate: func(t *Task) { t.Title = "  " }, wantField: "title"},
		{name: "bad priority", mutate: func(t *Task) { t.Priority = "urgent" }, wantField: "priority"},
		{name: "bad effort", mutate: func(t *Task) { t.EstimatedEffort = "huge" }, wantField: "estimatedEffort"},
		{name: "self dependency", mutate: func(t *Task) { t.Dependencies = []string{"t1"} }, wantField: "dependencies[0]"},
		{name: "duplicate dependency", mutate: func(t *Task) { t.Dependencies = []string{"a", "a"} }, wantField: "dependencies[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := base
			tt.mutate(&tk)

			err := tk.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var fieldErrs criterio.FieldErrors
			require.ErrorAs(t, err, &fieldErrs)
			require.Len(t, fieldErrs, 1)
			assert.Equal(t, tt.wantField, fieldErrs[0].Field)
		})
	}
}

func TestTask_CheckInvariants(t *testing.T) {
	now := time.Now()

	t.Run("todo without claim is consistent", func(t *testing.T) {
		require.NoError(t, Task{ID: "a", Status: StatusTodo}.CheckInvariants())
	})

	t.Run("in progress without holder", func(t *testing.T) {
		require.Error(t, Task{ID: "a", Status: StatusInProgress}.CheckInvariants())
	})

	t.Run("done without completedAt", func(t *testing.T) {
		require.Error(t, Task{ID: "a", Status: StatusDone}.CheckInvariants())
	})

	t.Run("blocked with reason and holder", func(t *testing.T) {
		tk := Task{ID: "a", Status: StatusBlocked, ClaimedBy: "w", ClaimedAt: &now, BlockedReason: "input"}
		require.NoError(t, tk.CheckInvariants())
	})

	t.Run("unknown status", func(t *testing.T) {
		require.Error(t, Task{ID: "a", Status: "paused"}.CheckInvariants())
	})
}

func TestLess(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "low", Priority: PriorityLow, CreatedAt: t0},
		{ID: "high-late", Priority: PriorityHigh, CreatedAt: t0.Add(time.Hour)},
		{ID: "high-early", Priority: PriorityHigh, CreatedAt: t0},
		{ID: "crit", Priority: PriorityCritical, CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "b-med", Priority: PriorityMedium, CreatedAt: t0},
		{ID: "a-med", Priority: PriorityMedium, CreatedAt: t0},
	}

	slices.SortStableFunc(tasks, Compare)

	ids := make([]string, len(tasks))
	for i, tk := range tasks {
		ids[i] = tk.ID
	}
	assert.Equal(t, []string{"crit", "high-early", "high-late", "a-med", "b-med", "low"}, ids)
}

func TestListFilter_Match(t *testing.T) {
	tk := Task{
		Status:        StatusTodo,
		Category:      "backend",
		FilesInvolved: []string{"internal/server/server.go", "README.md"},
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   bool
	}{
		{"empty", ListFilter{}, true},
		{"status match", ListFilter{Status: StatusTodo}, true},
		{"status mismatch", ListFilter{Status: StatusDone}, false},
		{"category mismatch", ListFilter{Category: "frontend"}, false},
		{"glob match", ListFilter{File: "internal/**/*.go"}, true},
		{"glob mismatch", ListFilter{File: "web/**"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tk))
		})
	}
}

func TestPatch_Apply(t *testing.T) {
	title := "New title"
	deps := []string{"x"}
	p := Patch{Title: &title, Dependencies: &deps}

	orig := Task{ID: "a", Title: "Old", Category: "ops"}
	got := p.Apply(orig)

	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, []string{"x"}, got.Dependencies)
	assert.Equal(t, "ops", got.Category)
	assert.Equal(t, "Old", orig.Title)
	assert.False(t, p.Empty())
	assert.True(t, Patch{}.Empty())
}

func TestSessionKey(t *testing.T) {
	key := SessionKey("t1")
	assert.Equal(t, "task:t1", key)

	id, ok := TaskIDFromSession(key)
	assert.True(t, ok)
	assert.Equal(t, "t1", id)

	_, ok = TaskIDFromSession("ops-channel")
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, p)

	_, err = ParsePriority("urgent")
	require.Error(t, err)

	s, err := ParseStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)
}

func TestPendingDependencies(t *testing.T) {
	status := map[string]Status{"a": StatusDone, "b": StatusInProgress}
	assert.Equal(t, []string{"b", "missing"}, PendingDependencies([]string{"a", "b", "missing"}, status))
	assert.Empty(t, PendingDependencies([]string{"a"}, status))
}
