package coordinator

import (
	"context"
	"errors"
	"strings"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/stores"
)

// checkOwner reports task.ErrNotOwner when the task is claimed by someone
// other than workerID.
func checkOwner(t task.Task, workerID string) error {
	if t.Status.Claimed() && t.ClaimedBy != workerID {
		return task.ErrNotOwner
	}
	return nil
}

// touchLease renews the worker's lease if it still has one. Blocking and
// approval count as signs of life.
func (s *Service) touchLease(ctx context.Context, r *stores.Repo, taskID, workerID string) error {
	_, err := s.leases.Renew(ctx, r.Leases, task.SessionKey(taskID), workerID)
	if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrNotHolder) {
		return nil
	}
	return err
}

// Block moves an in-progress task to blocked and posts the block notice to
// the task session for a human to answer.
func (s *Service) Block(ctx context.Context, taskID, workerID, reason string) (task.Task, messaging.Message, error) {
	reason = strings.TrimSpace(reason)

	var (
		blocked task.Task
		notice  messaging.Message
	)
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		t, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if err := checkOwner(t, workerID); err != nil {
			return err
		}
		if reason == "" {
			return task.ErrReasonRequired
		}

		blocked, err = task.Transition(t, task.Change{To: task.StatusBlocked, Reason: reason, At: s.now()})
		if err != nil {
			return err
		}
		if err := r.Tasks.SaveState(ctx, blocked, t.Status); err != nil {
			return err
		}
		if err := s.touchLease(ctx, r, taskID, workerID); err != nil {
			return err
		}

		// The notice is announced together with the blocked event, so build
		// it with a scratch emitter and attach it below.
		notice, err = s.appendMessage(ctx, r, &emitter{}, systemNotice(blocked, s.blockNotice(blocked, workerID, reason)))
		if err != nil {
			return err
		}
		ev.taskBlocked(blocked, notice)
		return nil
	})
	return blocked, notice, err
}

// ApproveOptions carries the optional human response to a block.
type ApproveOptions struct {
	// Response is posted to the task session for the worker when set.
	Response string
	// By names the approver for events and logs.
	By string
}

// Approve moves a blocked task back to in_progress, marks the outstanding
// block notices delivered and posts the optional response.
func (s *Service) Approve(ctx context.Context, taskID string, opts ApproveOptions) (task.Task, error) {
	var approved task.Task
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		t, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != task.StatusBlocked {
			return &task.InvalidTransitionError{TaskID: taskID, From: t.Status, To: task.StatusInProgress}
		}

		now := s.now()
		approved, err = task.Transition(t, task.Change{To: task.StatusInProgress, At: now})
		if err != nil {
			return err
		}
		if err := r.Tasks.SaveState(ctx, approved, task.StatusBlocked); err != nil {
			return err
		}
		if err := s.touchLease(ctx, r, taskID, approved.ClaimedBy); err != nil {
			return err
		}
		ev.taskApproved(approved, opts.By)

		pending, err := r.Messages.Pending(ctx, messaging.PendingFilter{
			Recipient: messaging.RecipientHuman,
			TaskID:    taskID,
		})
		if err != nil {
			return err
		}
		for _, m := range pending {
			if m.Sender != messaging.SenderSystem {
				continue
			}
			delivered, changed, err := m.Advance(messaging.StatusDelivered, now)
			if err != nil || !changed {
				continue
			}
			if err := r.Messages.UpdateStatus(ctx, delivered); err != nil {
				return err
			}
			ev.messageUpdated(delivered)
		}

		if resp := strings.TrimSpace(opts.Response); resp != "" {
			_, err := s.appendMessage(ctx, r, ev, messaging.Message{
				SessionKey: approved.SessionKey(),
				TaskID:     taskID,
				Sender:     messaging.SenderHuman,
				Content:    resp,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.log.Info().Str("task", taskID).Str("by", opts.By).Msg("task approved")
	}
	return approved, err
}

// Complete marks an in-progress task done, drops its lease and returns the
// todo tasks whose last pending dependency it was.
func (s *Service) Complete(ctx context.Context, taskID, workerID string) (task.Task, []task.Task, error) {
	var (
		done      task.Task
		unblocked []task.Task
	)
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		unblocked = nil

		t, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if err := checkOwner(t, workerID); err != nil {
			return err
		}
		if t.Status != task.StatusInProgress {
			return &task.InvalidTransitionError{TaskID: taskID, From: t.Status, To: task.StatusDone}
		}

		done, err = task.Transition(t, task.Change{To: task.StatusDone, At: s.now()})
		if err != nil {
			return err
		}
		if err := r.Tasks.SaveState(ctx, done, task.StatusInProgress); err != nil {
			return err
		}
		if err := r.Leases.Delete(ctx, task.SessionKey(taskID)); err != nil {
			return err
		}

		dependents, err := r.Tasks.Dependents(ctx, taskID)
		if err != nil {
			return err
		}
		for _, id := range dependents {
			d, err := r.Tasks.Get(ctx, id)
			if err != nil {
				return err
			}
			if d.Status != task.StatusTodo {
				continue
			}
			statuses, err := r.Tasks.Statuses(ctx, d.Dependencies)
			if err != nil {
				return err
			}
			if len(task.PendingDependencies(d.Dependencies, statuses)) == 0 {
				unblocked = append(unblocked, d)
			}
		}

		ev.taskCompleted(done, workerID, unblocked)
		return nil
	})
	if err == nil {
		s.log.Info().Str("task", taskID).Str("worker", workerID).Int("unblocked", len(unblocked)).Msg("task completed")
	}
	return done, unblocked, err
}

// ResetOptions controls an administrative reset.
type ResetOptions struct {
	// Force resets even while a worker holds a live lease.
	Force bool
}

// Reset returns a claimed task to todo and drops its lease. Without Force it
// refuses while the lease is live.
func (s *Service) Reset(ctx context.Context, taskID string, opts ResetOptions) (task.Task, error) {
	var reset task.Task
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		t, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}

		now := s.now()
		name := task.SessionKey(taskID)
		current, err := r.Leases.Get(ctx, name)
		switch {
		case errors.Is(err, lease.ErrNotFound):
		case err != nil:
			return err
		case current.Live(now, s.opts.StaleTTL) && !opts.Force:
			return &task.AlreadyClaimedError{TaskID: taskID, Holder: current.Holder, Age: current.Age(now)}
		}

		reset, err = task.Transition(t, task.Change{To: task.StatusTodo, At: now})
		if err != nil {
			return err
		}
		if err := r.Tasks.SaveState(ctx, reset, t.Status); err != nil {
			return err
		}
		if err := r.Leases.Delete(ctx, name); err != nil {
			return err
		}
		ev.taskReset(reset, eventbus.ResetCauseAdmin)
		return nil
	})
	if err == nil {
		s.log.Info().Str("task", taskID).Bool("force", opts.Force).Msg("task reset")
	}
	return reset, err
}
