// Package singleton keeps a single instance of a named process alive per
// data directory. The claim is a lease stored as a JSON marker file; a marker
// counts as live while its heartbeat is fresh and its recorded PID is still
// running.
package singleton

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/store/jsonfile"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned when another live process holds the
	// marker.
	ErrAlreadyRunning = errors.New("another instance is already running")
	// ErrLost is returned when the marker was taken over while running.
	ErrLost = errors.New("singleton lease lost")
)

// Options configures a Guard.
type Options struct {
	// Dir holds the marker files.
	Dir      string
	Identity string
	// TTL is how long a marker survives without a heartbeat.
	TTL               time.Duration
	HeartbeatInterval time.Duration

	// PID and Holder default to the current process.
	PID    int
	Holder string
	Now    func() time.Time
}

// Guard owns the bot:<identity> marker.
type Guard struct {
	store    *jsonfile.LeaseStore
	mgr      lease.Manager
	name     string
	holder   string
	pid      int
	interval time.Duration
	lock     fileLock
	log      zerolog.Logger
}

// New builds a guard. Nothing is written until Acquire.
func New(opts Options, log zerolog.Logger) *Guard {
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Holder == "" {
		host, _ := os.Hostname()
		opts.Holder = fmt.Sprintf("%s:%d", host, opts.PID)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = opts.TTL / 3
	}

	store := jsonfile.NewLeaseStore(opts.Dir)
	name := "bot:" + opts.Identity

	return &Guard{
		store:    store,
		mgr:      lease.Manager{TTL: opts.TTL, Now: opts.Now},
		name:     name,
		holder:   opts.Holder,
		pid:      opts.PID,
		interval: opts.HeartbeatInterval,
		lock:     fileLock{path: store.Path(name) + ".lock"},
		log:      log,
	}
}

// Name returns the lease name, bot:<identity>.
func (g *Guard) Name() string {
	return g.name
}

// MarkerPath returns the marker file location.
func (g *Guard) MarkerPath() string {
	return g.store.Path(g.name)
}

func (g *Guard) locked(fn func() error) error {
	if err := os.MkdirAll(g.store.Dir(), 0o755); err != nil {
		return err
	}
	if err := g.lock.lock(); err != nil {
		return err
	}
	defer func() {
		if err := g.lock.unlock(); err != nil {
			g.log.Warn().Err(err).Msg("failed to release marker lock")
		}
	}()
	return fn()
}

// Acquire claims the marker. A marker left by a dead process is taken over
// even if its heartbeat is fresh.
func (g *Guard) Acquire(ctx context.Context) (lease.Lease, error) {
	var acquired lease.Lease
	err := g.locked(func() error {
		current, err := g.store.Get(ctx, g.name)
		switch {
		case errors.Is(err, lease.ErrNotFound):
		case err != nil:
			return err
		case current.Holder != g.holder && current.PID != g.pid && !processAlive(current.PID):
			g.log.Info().Str("holder", current.Holder).Int("pid", current.PID).Msg("previous instance is gone, taking over")
			if err := g.store.Delete(ctx, g.name); err != nil {
				return err
			}
		}

		res, err := g.mgr.Acquire(ctx, g.store, g.name, g.holder, g.pid)
		if err != nil {
			var held *lease.HeldError
			if errors.As(err, &held) {
				return fmt.Errorf("%w: %s held by %s for %s", ErrAlreadyRunning, g.name, held.Holder, held.Age.Round(time.Second))
			}
			return err
		}
		if res.Replaced != nil {
			g.log.Info().Str("holder", res.Replaced.Holder).Msg("replaced stale marker")
		}
		acquired = res.Lease
		return nil
	})
	return acquired, err
}

// Refresh moves the heartbeat forward. It returns ErrLost when another
// process has taken the marker.
func (g *Guard) Refresh(ctx context.Context) error {
	return g.locked(func() error {
		_, err := g.mgr.Renew(ctx, g.store, g.name, g.holder)
		if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrNotHolder) {
			return fmt.Errorf("%w: %w", ErrLost, err)
		}
		return err
	})
}

// Release removes the marker if this guard still holds it.
func (g *Guard) Release(ctx context.Context) error {
	return g.locked(func() error {
		err := g.mgr.Release(ctx, g.store, g.name, g.holder)
		if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrNotHolder) {
			return nil
		}
		return err
	})
}

// Run acquires the marker, runs fn while heartbeating, and removes the
// marker when fn returns. Losing the marker cancels fn's context.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := g.Acquire(ctx); err != nil {
		return err
	}
	g.log.Info().Str("marker", g.MarkerPath()).Msg("singleton acquired")

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.Release(releaseCtx); err != nil {
			g.log.Warn().Err(err).Msg("failed to remove singleton marker")
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	grp, grpCtx := errgroup.WithContext(runCtx)
	grp.Go(func() error {
		defer stop()
		return fn(grpCtx)
	})
	grp.Go(func() error {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-grpCtx.Done():
				return nil
			case <-ticker.C:
				if err := g.Refresh(grpCtx); err != nil {
					if errors.Is(err, ErrLost) {
						return err
					}
					g.log.Warn().Err(err).Msg("singleton heartbeat failed")
				}
			}
		}
	})
	return grp.Wait()
}
