package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusTodo, StatusInProgress}:    true,
		{StatusInProgress, StatusBlocked}: true,
		{StatusInProgress, StatusDone}:    true,
		{StatusInProgress, StatusTodo}:    true,
		{StatusBlocked, StatusInProgress}: true,
		{StatusBlocked, StatusTodo}:       true,
	}

	for _, from := range Statuses {
		for _, to := range Statuses {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	todo := Task{ID: "t1", Title: "x", Status: StatusTodo}

	t.Run("claim sets holder", func(t *testing.T) {
		got, err := Transition(todo, Change{To: StatusInProgress, Holder: "worker-a", At: at})
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, got.Status)
		assert.Equal(t, "worker-a", got.ClaimedBy)
		require.NotNil(t, got.ClaimedAt)
		assert.Equal(t, at, *got.ClaimedAt)
		require.NoError(t, got.CheckInvariants())
	})

	t.Run("block requires reason", func(t *testing.T) {
		inProgress, err := Transition(todo, Change{To: StatusInProgress, Holder: "w", At: at})
		require.NoError(t, err)

		_, err = Transition(inProgress, Change{To: StatusBlocked, At: at})
		require.ErrorIs(t, err, ErrReasonRequired)
	})

	t.Run("complete todo is invalid", func(t *testing.T) {
		got, err := Transition(todo, Change{To: StatusDone, At: at})

		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, StatusTodo, invalid.From)
		assert.Equal(t, StatusDone, invalid.To)
		assert.Equal(t, todo, got)
	})

	t.Run("approve keeps holder", func(t *testing.T) {
		tk, _ := Transition(todo, Change{To: StatusInProgress, Holder: "w", At: at})
		tk, _ = Transition(tk, Change{To: StatusBlocked, Reason: "need input", At: at})
		got, err := Transition(tk, Change{To: StatusInProgress, At: at.Add(time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, "w", got.ClaimedBy)
		assert.Empty(t, got.BlockedReason)
	})
}

// TestTransition_Property drives random change sequences and checks that
// every accepted change follows the graph and keeps the record consistent,
// while every rejected change leaves it untouched.
func TestTransition_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		tk := Task{ID: "t", Title: "x", Status: StatusTodo, Priority: PriorityMedium}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := range steps {
			to := rapid.SampledFrom(Statuses).Draw(t, "to")
			change := Change{
				To:     to,
				Holder: rapid.SampledFrom([]string{"", "worker-a", "worker-b"}).Draw(t, "holder"),
				Reason: rapid.SampledFrom([]string{"", "needs review"}).Draw(t, "reason"),
				At:     at.Add(time.Duration(i) * time.Second),
			}

			before := tk
			next, err := Transition(tk, change)
			if err != nil {
				if next.Status != before.Status || next.ClaimedBy != before.ClaimedBy || next.UpdatedAt != before.UpdatedAt {
					t.Fatalf("rejected change mutated task: %+v -> %+v", before, next)
				}
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) && !errors.Is(err, ErrReasonRequired) && !errors.Is(err, ErrHolderRequired) {
					t.Fatalf("unexpected error %v", err)
				}
				continue
			}

			if !CanTransition(before.Status, next.Status) {
				t.Fatalf("accepted %s -> %s outside the graph", before.Status, next.Status)
			}
			if err := next.CheckInvariants(); err != nil {
				t.Fatalf("invariants broken after %s -> %s: %v", before.Status, next.Status, err)
			}
			if before.Status == StatusBlocked && next.Status == StatusInProgress && next.ClaimedBy != before.ClaimedBy {
				t.Fatalf("approve changed holder %q -> %q", before.ClaimedBy, next.ClaimedBy)
			}
			tk = next
		}
	})
}
