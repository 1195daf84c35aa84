package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/data/db"
)

// LeaseStore implements lease.Store using SQLite.
type LeaseStore struct {
	c conn
}

var _ lease.Store = (*LeaseStore)(nil)

// NewLeaseStore creates a SQLite-backed lease store over the connection pool.
func NewLeaseStore(database *db.DB) *LeaseStore {
	return &LeaseStore{c: conn{db: database, q: database.Queries()}}
}

func (s *LeaseStore) Get(ctx context.Context, name string) (lease.Lease, error) {
	row, err := s.c.q.GetLease(ctx, name)
	if IsNotFoundError(err) {
		return lease.Lease{}, lease.ErrNotFound
	}
	if err != nil {
		return lease.Lease{}, fmt.Errorf("get lease: %w", err)
	}
	return rowToLease(row), nil
}

// Put creates or replaces the lease stored under l.Name.
func (s *LeaseStore) Put(ctx context.Context, l lease.Lease) error {
	err := s.c.q.UpsertLease(ctx, db.Lease{
		Name:        l.Name,
		Holder:      l.Holder,
		Pid:         int64(l.PID),
		ClaimedAt:   unixNano(l.ClaimedAt),
		HeartbeatAt: unixNano(l.HeartbeatAt),
	})
	if err != nil {
		return fmt.Errorf("put lease: %w", err)
	}
	return nil
}

func (s *LeaseStore) Delete(ctx context.Context, name string) error {
	if err := s.c.q.DeleteLease(ctx, name); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

// List returns every lease ordered by name.
func (s *LeaseStore) List(ctx context.Context) ([]lease.Lease, error) {
	rows, err := s.c.q.ListLeases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}

	leases := make([]lease.Lease, 0, len(rows))
	for _, row := range rows {
		leases = append(leases, rowToLease(row))
	}
	return leases, nil
}

// rowToLease maps zero timestamps back to the zero time so malformed rows
// fail lease.Validate instead of looking like 1970 heartbeats.
func rowToLease(row db.Lease) lease.Lease {
	return lease.Lease{
		Name:        row.Name,
		Holder:      row.Holder,
		PID:         int(row.Pid),
		ClaimedAt:   fromUnixNano(row.ClaimedAt),
		HeartbeatAt: fromUnixNano(row.HeartbeatAt),
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}
