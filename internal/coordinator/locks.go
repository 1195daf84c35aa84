package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/stores"
)

// Claim gives workerID exclusive custody of a todo task whose dependencies
// are all done. A stale lease on the task is reclaimed first. Claiming a
// task the same worker already holds refreshes its lease.
func (s *Service) Claim(ctx context.Context, taskID, workerID string) (task.Task, lease.Lease, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return task.Task{}, lease.Lease{}, task.ErrHolderRequired
	}

	var (
		claimed task.Task
		held    lease.Lease
	)
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		var err error
		claimed, held, err = s.claim(ctx, r, ev, taskID, workerID)
		return err
	})
	return claimed, held, err
}

func (s *Service) claim(ctx context.Context, r *stores.Repo, ev *emitter, taskID, workerID string) (task.Task, lease.Lease, error) {
	t, err := r.Tasks.Get(ctx, taskID)
	if err != nil {
		return task.Task{}, lease.Lease{}, err
	}

	now := s.now()
	name := task.SessionKey(taskID)

	current, err := r.Leases.Get(ctx, name)
	switch {
	case errors.Is(err, lease.ErrNotFound):
	case err != nil:
		return task.Task{}, lease.Lease{}, err
	case current.Live(now, s.opts.StaleTTL) && current.Holder == workerID && t.Status.Claimed() && t.ClaimedBy == workerID:
		renewed, err := s.leases.Renew(ctx, r.Leases, name, workerID)
		return t, renewed, err
	case current.Live(now, s.opts.StaleTTL):
		return task.Task{}, lease.Lease{}, &task.AlreadyClaimedError{TaskID: taskID, Holder: current.Holder, Age: current.Age(now)}
	default:
		t, err = s.reclaim(ctx, r, ev, t, current, now)
		if err != nil {
			return task.Task{}, lease.Lease{}, err
		}
	}

	if t.Status != task.StatusTodo {
		return task.Task{}, lease.Lease{}, &task.InvalidTransitionError{TaskID: taskID, From: t.Status, To: task.StatusInProgress}
	}

	statuses, err := r.Tasks.Statuses(ctx, t.Dependencies)
	if err != nil {
		return task.Task{}, lease.Lease{}, err
	}
	if pending := task.PendingDependencies(t.Dependencies, statuses); len(pending) > 0 {
		return task.Task{}, lease.Lease{}, &task.DependencyNotSatisfiedError{TaskID: taskID, Pending: pending}
	}

	next, err := task.Transition(t, task.Change{To: task.StatusInProgress, Holder: workerID, At: now})
	if err != nil {
		return task.Task{}, lease.Lease{}, err
	}
	if err := r.Tasks.SaveState(ctx, next, task.StatusTodo); err != nil {
		return task.Task{}, lease.Lease{}, err
	}

	res, err := s.leases.Acquire(ctx, r.Leases, name, workerID, 0)
	if err != nil {
		return task.Task{}, lease.Lease{}, err
	}

	ev.taskClaimed(next, res.Lease)
	s.log.Info().Str("task", taskID).Str("worker", workerID).Msg("task claimed")
	return next, res.Lease, nil
}

// reclaim removes a stale lease. When the task is still claimed by the
// lease holder it goes back to todo and a notice is written to its session.
// Caller must hold s.mu.
func (s *Service) reclaim(ctx context.Context, r *stores.Repo, ev *emitter, t task.Task, stale lease.Lease, now time.Time) (task.Task, error) {
	if err := r.Leases.Delete(ctx, stale.Name); err != nil {
		return task.Task{}, err
	}
	ev.leaseReclaimed(t.ID, stale)

	if !t.Status.Claimed() || (stale.Holder != "" && t.ClaimedBy != stale.Holder) {
		return t, nil
	}

	reset, err := s.resetStale(ctx, r, ev, t, stale.Holder, stale.Idle(now), now)
	if err != nil {
		return task.Task{}, err
	}

	s.log.Warn().
		Str("task", t.ID).
		Str("holder", stale.Holder).
		Dur("idle", stale.Idle(now)).
		Msg("reclaimed stale lease")
	return reset, nil
}

// resetStale returns a claimed task to todo and writes the reclaim notice.
func (s *Service) resetStale(ctx context.Context, r *stores.Repo, ev *emitter, t task.Task, holder string, idle time.Duration, now time.Time) (task.Task, error) {
	from := t.Status
	reset, err := task.Transition(t, task.Change{To: task.StatusTodo, At: now})
	if err != nil {
		return task.Task{}, err
	}
	if err := r.Tasks.SaveState(ctx, reset, from); err != nil {
		return task.Task{}, err
	}
	ev.taskReset(reset, eventbus.ResetCauseStale)

	if _, err := s.appendMessage(ctx, r, ev, systemNotice(t, s.reclaimNotice(t, holder, idle))); err != nil {
		return task.Task{}, err
	}
	return reset, nil
}

// Heartbeat renews the worker's lease on a task.
func (s *Service) Heartbeat(ctx context.Context, taskID, workerID string) (lease.Lease, error) {
	var renewed lease.Lease
	err := s.mutate(ctx, func(r *stores.Repo, _ *emitter) error {
		t, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if !t.Status.Claimed() || t.ClaimedBy != workerID {
			return task.ErrNotOwner
		}

		renewed, err = s.leases.Renew(ctx, r.Leases, task.SessionKey(taskID), workerID)
		return ownerErr(err)
	})
	return renewed, err
}

// Release drops the worker's lease without changing the task status. The
// task stays claimed until the worker claims it again or the sweep resets
// it.
func (s *Service) Release(ctx context.Context, taskID, workerID string) error {
	return s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		if _, err := r.Tasks.Get(ctx, taskID); err != nil {
			return err
		}
		if err := ownerErr(s.leases.Release(ctx, r.Leases, task.SessionKey(taskID), workerID)); err != nil {
			return err
		}
		ev.taskReleased(taskID, workerID)
		return nil
	})
}

// Next claims the highest priority task that can be claimed right now.
func (s *Service) Next(ctx context.Context, workerID string, filter task.ListFilter) (task.Task, lease.Lease, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return task.Task{}, lease.Lease{}, task.ErrHolderRequired
	}
	filter.Status = task.StatusTodo

	var (
		claimed task.Task
		held    lease.Lease
	)
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		candidates, err := r.Tasks.List(ctx, filter)
		if err != nil {
			return err
		}

		for _, c := range candidates {
			claimed, held, err = s.claim(ctx, r, ev, c.ID, workerID)
			if err == nil {
				return nil
			}
			if !skippable(err) {
				return err
			}
		}
		return task.ErrNoneAvailable
	})
	return claimed, held, err
}

func skippable(err error) bool {
	var (
		claimedErr *task.AlreadyClaimedError
		depErr     *task.DependencyNotSatisfiedError
		transErr   *task.InvalidTransitionError
	)
	return errors.As(err, &claimedErr) || errors.As(err, &depErr) || errors.As(err, &transErr)
}

// ownerErr maps lease ownership failures onto task.ErrNotOwner.
func ownerErr(err error) error {
	if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrNotHolder) {
		return fmt.Errorf("%w: %w", task.ErrNotOwner, err)
	}
	return err
}
