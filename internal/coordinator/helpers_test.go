package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/eventbus/testbus"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/db"
	"github.com/colonyops/crew/internal/data/stores"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testTTL = 30 * time.Minute

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	svc   *Service
	repo  *stores.Repo
	bus   *testbus.Bus
	clock *fakeClock
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	clock := newFakeClock()
	repo := stores.NewRepo(database, stores.RepoOptions{MessageRetention: 500, Now: clock.Now})
	bus := testbus.New(t)

	opts := Options{StaleTTL: testTTL, Now: clock.Now}
	for _, fn := range mutate {
		fn(&opts)
	}

	return &harness{
		svc:   New(repo, bus.EventBus, opts, zerolog.Nop()),
		repo:  repo,
		bus:   bus,
		clock: clock,
	}
}

func (h *harness) createTask(t *testing.T, tk task.Task) task.Task {
	t.Helper()
	if tk.Title == "" {
		tk.Title = "task " + tk.ID
	}
	created, err := h.svc.CreateTask(context.Background(), tk)
	require.NoError(t, err)
	return created
}

func (h *harness) mustGet(t *testing.T, id string) task.Task {
	t.Helper()
	got, err := h.svc.GetTask(context.Background(), id)
	require.NoError(t, err)
	return got
}

// drain collects frames already queued on sub without blocking.
func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}
