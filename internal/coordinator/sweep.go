package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/stores"
)

// SweepStale reclaims every lease that is malformed or idle for at least the
// stale TTL as of now, and resets claimed tasks that lost their lease more
// than a TTL ago. Each lease is handled in its own transaction; the sweep
// stops between leases when ctx is cancelled. It returns the ids of tasks
// that went back to todo.
func (s *Service) SweepStale(ctx context.Context, now time.Time) ([]string, error) {
	m := lease.Manager{TTL: s.opts.StaleTTL, Now: func() time.Time { return now }}

	stale, err := m.Stale(ctx, s.repo.Leases)
	if err != nil {
		return nil, err
	}

	var reset []string
	for _, l := range stale {
		if err := ctx.Err(); err != nil {
			return reset, err
		}

		var wasReset bool
		err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
			wasReset = false
			return s.sweepLease(ctx, r, ev, l, now, &wasReset)
		})
		if err != nil {
			return reset, err
		}
		if wasReset {
			id, _ := task.TaskIDFromSession(l.Name)
			reset = append(reset, id)
		}
	}

	orphans, err := s.sweepOrphans(ctx, now)
	reset = append(reset, orphans...)
	return reset, err
}

func (s *Service) sweepLease(ctx context.Context, r *stores.Repo, ev *emitter, l lease.Lease, now time.Time, wasReset *bool) error {
	// Re-read under the lock: the holder may have heartbeated since listing.
	current, err := r.Leases.Get(ctx, l.Name)
	switch {
	case errors.Is(err, lease.ErrNotFound):
		return nil
	case err != nil:
		return err
	case current.Live(now, s.opts.StaleTTL):
		return nil
	}

	id, ok := task.TaskIDFromSession(current.Name)
	if !ok {
		s.log.Warn().Str("lease", current.Name).Msg("removing lease with no task")
		return r.Leases.Delete(ctx, current.Name)
	}

	t, err := r.Tasks.Get(ctx, id)
	if errors.Is(err, task.ErrNotFound) {
		if err := r.Leases.Delete(ctx, current.Name); err != nil {
			return err
		}
		ev.leaseReclaimed(id, current)
		return nil
	}
	if err != nil {
		return err
	}

	before := t.Status
	reset, err := s.reclaim(ctx, r, ev, t, current, now)
	if err != nil {
		return err
	}
	*wasReset = before.Claimed() && reset.Status == task.StatusTodo
	return nil
}

// sweepOrphans resets claimed tasks that have had no lease for a full TTL,
// which happens after a worker releases without finishing.
func (s *Service) sweepOrphans(ctx context.Context, now time.Time) ([]string, error) {
	var claimed []task.Task
	for _, st := range []task.Status{task.StatusInProgress, task.StatusBlocked} {
		ts, err := s.repo.Tasks.List(ctx, task.ListFilter{Status: st})
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, ts...)
	}

	var reset []string
	for _, t := range claimed {
		if err := ctx.Err(); err != nil {
			return reset, err
		}
		if now.Sub(t.UpdatedAt) < s.opts.StaleTTL {
			continue
		}

		var done bool
		err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
			done = false
			if _, err := r.Leases.Get(ctx, t.SessionKey()); !errors.Is(err, lease.ErrNotFound) {
				return err
			}

			current, err := r.Tasks.Get(ctx, t.ID)
			if err != nil {
				return err
			}
			if !current.Status.Claimed() || now.Sub(current.UpdatedAt) < s.opts.StaleTTL {
				return nil
			}

			if _, err := s.resetStale(ctx, r, ev, current, current.ClaimedBy, now.Sub(current.UpdatedAt), now); err != nil {
				return err
			}
			s.log.Warn().Str("task", t.ID).Str("holder", current.ClaimedBy).Msg("reset task with no lease")
			done = true
			return nil
		})
		if errors.Is(err, task.ErrNotFound) {
			continue
		}
		if err != nil {
			return reset, err
		}
		if done {
			reset = append(reset, t.ID)
		}
	}
	return reset, nil
}

// RunSweeper calls SweepStale every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reset, err := s.SweepStale(ctx, s.now())
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Msg("lease sweep failed")
				}
				continue
			}
			if len(reset) > 0 {
				s.log.Info().Strs("tasks", reset).Msg("lease sweep reset tasks")
			}
		}
	}
}
