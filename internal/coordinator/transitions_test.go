package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios walks the two reference lifecycles end to end.
func TestScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("claim block approve complete", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "T1", Title: "Add login"})

		claimed, _, err := h.svc.Claim(ctx, "T1", "workerA")
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, claimed.Status)

		_, _, err = h.svc.Claim(ctx, "T1", "workerB")
		var claimedErr *task.AlreadyClaimedError
		require.ErrorAs(t, err, &claimedErr)
		assert.Equal(t, "workerA", claimedErr.Holder)

		blocked, notice, err := h.svc.Block(ctx, "T1", "workerA", "waiting for input")
		require.NoError(t, err)
		assert.Equal(t, task.StatusBlocked, blocked.Status)
		assert.Equal(t, "task:T1", notice.SessionKey)

		msgs, err := h.svc.Messages().List(ctx, "task:T1", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].Content, "T1")
		assert.Contains(t, msgs[0].Content, "waiting for input")

		approved, err := h.svc.Approve(ctx, "T1", ApproveOptions{})
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, approved.Status)

		l, err := h.repo.Leases.Get(ctx, "task:T1")
		require.NoError(t, err)
		assert.Equal(t, "workerA", l.Holder)

		done, _, err := h.svc.Complete(ctx, "T1", "workerA")
		require.NoError(t, err)
		assert.Equal(t, task.StatusDone, done.Status)
		assert.NotNil(t, done.CompletedAt)

		_, err = h.repo.Leases.Get(ctx, "task:T1")
		assert.ErrorIs(t, err, lease.ErrNotFound)

		_, _, err = h.svc.Complete(ctx, "T1", "workerA")
		var transErr *task.InvalidTransitionError
		require.ErrorAs(t, err, &transErr)
		assert.Equal(t, task.StatusDone, transErr.From)
	})

	t.Run("stale claim swept", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "T2"})

		_, _, err := h.svc.Claim(ctx, "T2", "workerC")
		require.NoError(t, err)

		h.clock.Advance(testTTL + time.Second)
		_, err = h.svc.SweepStale(ctx, h.clock.Now())
		require.NoError(t, err)

		got := h.mustGet(t, "T2")
		assert.Equal(t, task.StatusTodo, got.Status)
		assert.Empty(t, got.ClaimedBy)

		msgs, err := h.svc.Messages().List(ctx, "task:T2", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, messaging.SenderSystem, msgs[0].Sender)
	})

	t.Run("claim heartbeat complete without approval", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "T3"})

		_, _, err := h.svc.Claim(ctx, "T3", "workerD")
		require.NoError(t, err)
		for range 4 {
			h.clock.Advance(time.Minute)
			_, err := h.svc.Heartbeat(ctx, "T3", "workerD")
			require.NoError(t, err)
		}

		done, _, err := h.svc.Complete(ctx, "T3", "workerD")
		require.NoError(t, err)
		require.NotNil(t, done.CompletedAt)
		assert.True(t, done.CompletedAt.Equal(h.clock.Now()))

		msgs, err := h.svc.Messages().List(ctx, "task:T3", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestService_Block(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(o *Options) {
		o.BlockNotice = "[{{ .Vars.team }}] {{ .ID }} needs {{ .Reason }} from {{ .Worker }}"
		o.Vars = map[string]any{"team": "core"}
	})
	h.createTask(t, task.Task{ID: "t1"})
	h.createTask(t, task.Task{ID: "t2"})
	_, _, err := h.svc.Claim(ctx, "t1", "worker-a")
	require.NoError(t, err)

	t.Run("other worker", func(t *testing.T) {
		_, _, err := h.svc.Block(ctx, "t1", "worker-b", "help")
		assert.ErrorIs(t, err, task.ErrNotOwner)
	})

	t.Run("reason required", func(t *testing.T) {
		_, _, err := h.svc.Block(ctx, "t1", "worker-a", "   ")
		assert.ErrorIs(t, err, task.ErrReasonRequired)
	})

	t.Run("todo task", func(t *testing.T) {
		_, _, err := h.svc.Block(ctx, "t2", "worker-a", "help")
		var transErr *task.InvalidTransitionError
		assert.ErrorAs(t, err, &transErr)
	})

	t.Run("renders configured notice", func(t *testing.T) {
		blocked, notice, err := h.svc.Block(ctx, "t1", "worker-a", "api keys")
		require.NoError(t, err)
		assert.Equal(t, "api keys", blocked.BlockedReason)
		assert.Equal(t, "[core] t1 needs api keys from worker-a", notice.Content)
		assert.Equal(t, messaging.SenderSystem, notice.Sender)
		assert.Equal(t, messaging.RecipientHuman, notice.Recipient())

		pending, err := h.svc.Messages().PendingFor(ctx, messaging.RecipientHuman, "task:t1")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, notice.ID, pending[0].ID)

		h.bus.AssertPublished(t, eventbus.EventTaskBlocked)
	})

	t.Run("already blocked", func(t *testing.T) {
		_, _, err := h.svc.Block(ctx, "t1", "worker-a", "again")
		var transErr *task.InvalidTransitionError
		require.ErrorAs(t, err, &transErr)
		assert.Equal(t, task.StatusBlocked, transErr.From)
	})
}

func TestService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("response reaches the worker", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "t1"})
		_, _, err := h.svc.Claim(ctx, "t1", "worker-a")
		require.NoError(t, err)
		_, notice, err := h.svc.Block(ctx, "t1", "worker-a", "which db?")
		require.NoError(t, err)

		approved, err := h.svc.Approve(ctx, "t1", ApproveOptions{Response: "use sqlite", By: "ops"})
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, approved.Status)
		assert.Empty(t, approved.BlockedReason)
		assert.Equal(t, "worker-a", approved.ClaimedBy)

		delivered, err := h.svc.Messages().Get(ctx, notice.ID)
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusDelivered, delivered.Status)

		forWorker, err := h.svc.Messages().PendingFor(ctx, messaging.RecipientWorker, "task:t1")
		require.NoError(t, err)
		require.Len(t, forWorker, 1)
		assert.Equal(t, "use sqlite", forWorker[0].Content)
		assert.Equal(t, messaging.SenderHuman, forWorker[0].Sender)

		h.bus.AssertPublished(t, eventbus.EventTaskApproved)
		h.bus.AssertPublished(t, eventbus.EventMessageUpdated)
	})

	t.Run("not blocked", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "t1"})

		_, err := h.svc.Approve(ctx, "t1", ApproveOptions{})
		var transErr *task.InvalidTransitionError
		require.ErrorAs(t, err, &transErr)
		assert.Equal(t, task.StatusTodo, transErr.From)
	})
}

func TestService_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("reports newly unblocked tasks", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "a"})
		h.createTask(t, task.Task{ID: "b"})
		h.createTask(t, task.Task{ID: "needs-a", Dependencies: []string{"a"}})
		h.createTask(t, task.Task{ID: "needs-ab", Dependencies: []string{"a", "b"}})

		_, _, err := h.svc.Claim(ctx, "a", "worker-a")
		require.NoError(t, err)
		_, unblocked, err := h.svc.Complete(ctx, "a", "worker-a")
		require.NoError(t, err)
		require.Len(t, unblocked, 1)
		assert.Equal(t, "needs-a", unblocked[0].ID)

		_, _, err = h.svc.Claim(ctx, "b", "worker-b")
		require.NoError(t, err)
		_, unblocked, err = h.svc.Complete(ctx, "b", "worker-b")
		require.NoError(t, err)
		require.Len(t, unblocked, 1)
		assert.Equal(t, "needs-ab", unblocked[0].ID)
	})

	t.Run("not owner", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "t1"})
		_, _, err := h.svc.Claim(ctx, "t1", "worker-a")
		require.NoError(t, err)

		_, _, err = h.svc.Complete(ctx, "t1", "worker-b")
		assert.ErrorIs(t, err, task.ErrNotOwner)
		assert.Equal(t, task.StatusInProgress, h.mustGet(t, "t1").Status)
	})

	t.Run("blocked task cannot complete", func(t *testing.T) {
		h := newHarness(t)
		h.createTask(t, task.Task{ID: "t1"})
		_, _, err := h.svc.Claim(ctx, "t1", "worker-a")
		require.NoError(t, err)
		_, _, err = h.svc.Block(ctx, "t1", "worker-a", "stuck")
		require.NoError(t, err)

		_, _, err = h.svc.Complete(ctx, "t1", "worker-a")
		var transErr *task.InvalidTransitionError
		require.ErrorAs(t, err, &transErr)
		assert.Equal(t, task.StatusBlocked, h.mustGet(t, "t1").Status)
	})
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createTask(t, task.Task{ID: "t1"})
	_, _, err := h.svc.Claim(ctx, "t1", "worker-a")
	require.NoError(t, err)

	_, err = h.svc.Reset(ctx, "t1", ResetOptions{})
	var claimedErr *task.AlreadyClaimedError
	require.ErrorAs(t, err, &claimedErr)
	assert.Equal(t, "worker-a", claimedErr.Holder)

	reset, err := h.svc.Reset(ctx, "t1", ResetOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, reset.Status)
	assert.Empty(t, reset.ClaimedBy)

	_, err = h.repo.Leases.Get(ctx, "task:t1")
	assert.ErrorIs(t, err, lease.ErrNotFound)

	_, err = h.svc.Reset(ctx, "t1", ResetOptions{})
	var transErr *task.InvalidTransitionError
	assert.ErrorAs(t, err, &transErr, "todo has nowhere to reset to")

	h.bus.AssertPublished(t, eventbus.EventTaskReset)
}

func TestService_TaskCRUD(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	created := h.createTask(t, task.Task{Title: "Write docs", Category: "docs"})
	assert.Len(t, created.ID, 8)
	h.bus.AssertPublished(t, eventbus.EventTaskCreated)

	title := "Write better docs"
	updated, err := h.svc.UpdateTask(ctx, created.ID, task.Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	h.bus.AssertPublished(t, eventbus.EventTaskUpdated)

	res, err := h.svc.ImportTasks(ctx, []task.Task{
		{ID: created.ID, Title: "dup"},
		{ID: "fresh", Title: "Fresh"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, res.Skipped)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "fresh", res.Created[0].ID)

	deleted, err := h.svc.DeleteTask(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	h.bus.AssertPublished(t, eventbus.EventTaskDeleted)

	deleted, err = h.svc.DeleteTask(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
