// Package coordinator owns every state-changing operation on tasks, leases
// and messages. Mutations are serialized by a single lock, persisted in one
// transaction each, and announced to the event bus and live subscribers only
// after they commit.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/stores"
	"github.com/rs/zerolog"
)

// DefaultStaleTTL is how long a task lease survives without a heartbeat when
// Options.StaleTTL is unset.
const DefaultStaleTTL = 30 * time.Minute

// Options configures a Service.
type Options struct {
	StaleTTL time.Duration

	// BlockNotice and ReclaimNotice are text/template sources rendered into
	// the task session when a task blocks or is reclaimed. Empty uses the
	// built-in wording.
	BlockNotice   string
	ReclaimNotice string
	Vars          map[string]any

	// HubBuffer sizes each live subscription.
	HubBuffer int

	Now func() time.Time
}

// Service is the coordinator. It is safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	repo   *stores.Repo
	bus    *eventbus.EventBus
	hub    *Hub
	leases lease.Manager
	opts   Options
	log    zerolog.Logger

	// lastMsgAt keeps message timestamps non-decreasing even if the wall
	// clock steps back. Guarded by mu.
	lastMsgAt     time.Time
	msgClockReady bool
}

// New creates a Service over repo. bus may be nil when nothing listens.
func New(repo *stores.Repo, bus *eventbus.EventBus, opts Options, log zerolog.Logger) *Service {
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = DefaultStaleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:   repo,
		bus:    bus,
		hub:    NewHub(opts.HubBuffer, log),
		leases: lease.Manager{TTL: opts.StaleTTL, Now: opts.Now},
		opts:   opts,
		log:    log,
	}
}

// Hub returns the live event hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// StaleTTL returns the configured lease lifetime.
func (s *Service) StaleTTL() time.Duration {
	return s.opts.StaleTTL
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

// mutate runs fn in one transaction while holding the mutation lock and
// flushes the collected events once the transaction commits.
func (s *Service) mutate(ctx context.Context, fn func(r *stores.Repo, ev *emitter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := &emitter{}
	if err := s.repo.InTx(ctx, func(r *stores.Repo) error {
		ev.reset()
		return fn(r, ev)
	}); err != nil {
		return err
	}

	ev.flush(s)
	return nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, id string) (task.Task, error) {
	return s.repo.Tasks.Get(ctx, id)
}

// ListTasks returns tasks matching filter in priority order.
func (s *Service) ListTasks(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	return s.repo.Tasks.List(ctx, filter)
}

// CreateTask stores a new todo task.
func (s *Service) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	var created task.Task
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		var err error
		created, err = r.Tasks.Create(ctx, t)
		if err != nil {
			return err
		}
		ev.taskCreated(created)
		return nil
	})
	return created, err
}

// ImportResult reports the outcome of ImportTasks.
type ImportResult struct {
	Created []task.Task `json:"created"`
	Skipped []string    `json:"skipped,omitempty"`
}

// ImportTasks creates every task whose id is not taken yet, skipping the
// rest. The whole batch commits or fails together.
func (s *Service) ImportTasks(ctx context.Context, tasks []task.Task) (ImportResult, error) {
	var res ImportResult
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		res = ImportResult{}
		for _, t := range tasks {
			created, err := r.Tasks.Create(ctx, t)
			switch {
			case errors.Is(err, task.ErrDuplicate):
				res.Skipped = append(res.Skipped, t.ID)
				continue
			case err != nil:
				return err
			}
			res.Created = append(res.Created, created)
			ev.taskCreated(created)
		}
		return nil
	})
	return res, err
}

// UpdateTask edits the descriptive fields of a task.
func (s *Service) UpdateTask(ctx context.Context, id string, p task.Patch) (task.Task, error) {
	var updated task.Task
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		var err error
		updated, err = r.Tasks.Update(ctx, id, p)
		if err != nil {
			return err
		}
		ev.taskUpdated(updated)
		return nil
	})
	return updated, err
}

// DeleteTask removes a task together with its lease. It reports whether the
// task existed.
func (s *Service) DeleteTask(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.mutate(ctx, func(r *stores.Repo, ev *emitter) error {
		var err error
		deleted, err = r.Tasks.Delete(ctx, id)
		if err != nil {
			return err
		}
		if deleted {
			ev.taskDeleted(id)
		}
		return nil
	})
	return deleted, err
}
