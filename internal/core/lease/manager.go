package lease

import (
	"context"
	"errors"
	"time"
)

// Manager applies the acquire, renew and release rules against a Store.
// It holds no state of its own, so callers can run it against a store bound
// to an open transaction.
type Manager struct {
	TTL time.Duration
	Now func() time.Time
}

// NewManager returns a Manager using ttl and the wall clock.
func NewManager(ttl time.Duration) Manager {
	return Manager{TTL: ttl, Now: time.Now}
}

func (m Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// AcquireResult describes the outcome of a successful Acquire.
type AcquireResult struct {
	Lease Lease
	// Replaced is the stale or malformed lease that was taken over, if any.
	Replaced *Lease
}

// Acquire grants the named lease to holder. A live lease owned by holder is
// refreshed in place; a live lease owned by anyone else yields *HeldError.
func (m Manager) Acquire(ctx context.Context, s Store, name, holder string, pid int) (AcquireResult, error) {
	now := m.now()

	current, err := s.Get(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return AcquireResult{}, err
	case current.Live(now, m.TTL) && current.Holder == holder:
		current.HeartbeatAt = now
		current.PID = pid
		if err := s.Put(ctx, current); err != nil {
			return AcquireResult{}, err
		}
		return AcquireResult{Lease: current}, nil
	case current.Live(now, m.TTL):
		return AcquireResult{}, &HeldError{Name: name, Holder: current.Holder, Age: current.Age(now)}
	}

	var res AcquireResult
	if err == nil {
		replaced := current
		res.Replaced = &replaced
	}

	res.Lease = Lease{
		Name:        name,
		Holder:      holder,
		ClaimedAt:   now,
		HeartbeatAt: now,
		PID:         pid,
	}
	if err := s.Put(ctx, res.Lease); err != nil {
		return AcquireResult{}, err
	}
	return res, nil
}

// Renew moves the heartbeat of a lease held by holder to now. A stale lease
// that has not been reclaimed yet can still be renewed by its holder.
func (m Manager) Renew(ctx context.Context, s Store, name, holder string) (Lease, error) {
	current, err := s.Get(ctx, name)
	if err != nil {
		return Lease{}, err
	}
	if current.Holder != holder {
		return Lease{}, ErrNotHolder
	}

	current.HeartbeatAt = m.now()
	if err := s.Put(ctx, current); err != nil {
		return Lease{}, err
	}
	return current, nil
}

// Release deletes a lease held by holder.
func (m Manager) Release(ctx context.Context, s Store, name, holder string) error {
	current, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if current.Holder != holder {
		return ErrNotHolder
	}
	return s.Delete(ctx, name)
}

// Stale returns every stored lease that is malformed or idle for at least
// the TTL, in store order.
func (m Manager) Stale(ctx context.Context, s Store) ([]Lease, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var stale []Lease
	for _, l := range all {
		if !l.Live(now, m.TTL) {
			stale = append(stale, l)
		}
	}
	return stale, nil
}
