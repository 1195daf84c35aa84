package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/colonyops/crew/internal/core/task"
)

// WorkerStatus classifies a lease in the workers view.
type WorkerStatus string

const (
	WorkerActive  WorkerStatus = "active"
	WorkerStale   WorkerStatus = "stale"
	WorkerInvalid WorkerStatus = "invalid"
)

// maxProgress caps the estimate so a task is never shown as finished before
// it completes.
const maxProgress = 95

// WorkerSession joins a task lease with the task it covers.
type WorkerSession struct {
	WorkerID            string       `json:"workerId"`
	TaskID              string       `json:"taskId"`
	Title               string       `json:"title,omitempty"`
	Category            string       `json:"category,omitempty"`
	ClaimedAt           time.Time    `json:"claimedAt"`
	HeartbeatAt         time.Time    `json:"heartbeatAt"`
	AgeSeconds          int64        `json:"ageSeconds"`
	HeartbeatAgeSeconds int64        `json:"heartbeatAgeSeconds"`
	Status              WorkerStatus `json:"status"`
	Progress            int          `json:"progress"`
}

// Age is how long the worker has held the task.
func (w WorkerSession) Age() time.Duration {
	return time.Duration(w.AgeSeconds) * time.Second
}

// HeartbeatAge is how long since the worker last checked in.
func (w WorkerSession) HeartbeatAge() time.Duration {
	return time.Duration(w.HeartbeatAgeSeconds) * time.Second
}

// estimateProgress maps elapsed time against the effort estimate.
func estimateProgress(elapsed time.Duration, effort task.Effort) int {
	if elapsed <= 0 {
		return 0
	}
	pct := int(elapsed * 100 / effort.Duration())
	return min(pct, maxProgress)
}

// Workers lists every task lease with its derived status, oldest claim first.
func (s *Service) Workers(ctx context.Context) ([]WorkerSession, error) {
	leases, err := s.repo.Leases.List(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.Tasks.List(ctx, task.ListFilter{})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	now := s.now()
	sessions := make([]WorkerSession, 0, len(leases))
	for _, l := range leases {
		id, ok := task.TaskIDFromSession(l.Name)
		if !ok {
			continue
		}

		w := WorkerSession{
			WorkerID:    l.Holder,
			TaskID:      id,
			ClaimedAt:   l.ClaimedAt,
			HeartbeatAt: l.HeartbeatAt,
		}

		t, found := byID[id]
		switch {
		case l.Validate() != nil || !found:
			w.Status = WorkerInvalid
		case !l.Live(now, s.opts.StaleTTL):
			w.Status = WorkerStale
		default:
			w.Status = WorkerActive
		}

		if found {
			w.Title = t.Title
			w.Category = t.Category
		}
		if w.Status != WorkerInvalid {
			w.AgeSeconds = int64(l.Age(now) / time.Second)
			w.HeartbeatAgeSeconds = int64(l.Idle(now) / time.Second)
			w.Progress = estimateProgress(l.Age(now), t.EstimatedEffort)
		}
		sessions = append(sessions, w)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].ClaimedAt.Before(sessions[j].ClaimedAt)
	})
	return sessions, nil
}

// CategoryStats counts tasks of one category.
type CategoryStats struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Stats summarizes the task list and worker pool.
type Stats struct {
	Total          int                      `json:"total"`
	Done           int                      `json:"done"`
	CompletedToday int                      `json:"completedToday"`
	InProgress     int                      `json:"inProgress"`
	Blocked        int                      `json:"blocked"`
	Available      int                      `json:"available"`
	Waiting        int                      `json:"waiting"`
	ActiveWorkers  int                      `json:"activeWorkers"`
	StaleWorkers   int                      `json:"staleWorkers"`
	Categories     map[string]CategoryStats `json:"categories"`
}

// Stats computes the dashboard summary. "Today" is the local calendar day.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	tasks, err := s.repo.Tasks.List(ctx, task.ListFilter{})
	if err != nil {
		return Stats{}, err
	}
	workers, err := s.Workers(ctx)
	if err != nil {
		return Stats{}, err
	}

	statuses := statusIndex(tasks)
	now := s.now().Local()
	y, m, d := now.Date()

	st := Stats{Total: len(tasks), Categories: make(map[string]CategoryStats)}
	for _, t := range tasks {
		cat := st.Categories[t.Category]
		cat.Total++

		switch t.Status {
		case task.StatusDone:
			st.Done++
			cat.Done++
			if t.CompletedAt != nil {
				cy, cm, cd := t.CompletedAt.Local().Date()
				if cy == y && cm == m && cd == d {
					st.CompletedToday++
				}
			}
		case task.StatusInProgress:
			st.InProgress++
		case task.StatusBlocked:
			st.Blocked++
		case task.StatusTodo:
			if len(task.PendingDependencies(t.Dependencies, statuses)) == 0 {
				st.Available++
			} else {
				st.Waiting++
			}
		}
		st.Categories[t.Category] = cat
	}

	for _, w := range workers {
		switch w.Status {
		case WorkerActive:
			st.ActiveWorkers++
		case WorkerStale:
			st.StaleWorkers++
		}
	}
	return st, nil
}

// Queue splits todo tasks into those claimable now and those waiting on
// dependencies.
type Queue struct {
	Available []task.Task `json:"available"`
	Waiting   []task.Task `json:"waiting"`
}

// Queue returns the todo tasks in priority order.
func (s *Service) Queue(ctx context.Context) (Queue, error) {
	tasks, err := s.repo.Tasks.List(ctx, task.ListFilter{})
	if err != nil {
		return Queue{}, err
	}

	statuses := statusIndex(tasks)
	q := Queue{Available: []task.Task{}, Waiting: []task.Task{}}
	for _, t := range tasks {
		if t.Status != task.StatusTodo {
			continue
		}
		if len(task.PendingDependencies(t.Dependencies, statuses)) == 0 {
			q.Available = append(q.Available, t)
		} else {
			q.Waiting = append(q.Waiting, t)
		}
	}
	return q, nil
}

// DefaultHistoryLimit is used when History is called with a non-positive
// limit.
const DefaultHistoryLimit = 50

// History returns the most recently completed tasks, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]task.Task, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.Tasks.Completed(ctx, limit)
}

// Snapshot builds the init frame sent to new stream subscribers.
func (s *Service) Snapshot(ctx context.Context) (Event, error) {
	tasks, err := s.repo.Tasks.List(ctx, task.ListFilter{})
	if err != nil {
		return Event{}, err
	}
	workers, err := s.Workers(ctx)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventInit, At: s.now(), Tasks: tasks, Workers: workers}, nil
}

func statusIndex(tasks []task.Task) map[string]task.Status {
	out := make(map[string]task.Status, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t.Status
	}
	return out
}

// Stream subscribes to live events and delivers the init snapshot as the
// first frame. Holding the mutation lock keeps any event from slipping in
// between the snapshot and the subscription.
func (s *Service) Stream(ctx context.Context, f Filter) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sub := s.hub.Subscribe(f)
	s.hub.Send(sub, snap)
	return sub, nil
}
