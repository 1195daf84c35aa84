// Package lease implements named, time-bounded exclusive custody records.
//
// A lease is live while its holder keeps heartbeating within the TTL. Once
// the heartbeat goes stale the lease counts as abandoned and the next
// acquirer takes it over. Task claims and the bot singleton guard share this
// primitive over different stores.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no lease exists under a name.
	ErrNotFound = errors.New("lease not found")
	// ErrNotHolder is returned when a renew or release comes from someone
	// other than the current holder.
	ErrNotHolder = errors.New("lease held by another holder")
)

// HeldError is returned by Acquire when a live lease belongs to someone else.
type HeldError struct {
	Name   string
	Holder string
	Age    time.Duration
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lease %s held by %s for %s", e.Name, e.Holder, e.Age.Round(time.Second))
}

// Lease is one custody record.
type Lease struct {
	Name        string    `json:"name"`
	Holder      string    `json:"holder"`
	ClaimedAt   time.Time `json:"claimedAt"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
	// PID is set by process guards so liveness can also be checked against
	// the operating system.
	PID int `json:"pid,omitempty"`
}

// Validate reports whether the record is well formed. Malformed records are
// always treated as stale.
func (l Lease) Validate() error {
	switch {
	case l.Name == "":
		return errors.New("missing name")
	case l.Holder == "":
		return errors.New("missing holder")
	case l.ClaimedAt.IsZero() || l.HeartbeatAt.IsZero():
		return errors.New("missing timestamps")
	case l.HeartbeatAt.Before(l.ClaimedAt):
		return errors.New("heartbeat precedes claim")
	}
	return nil
}

// Age is how long the lease has been held.
func (l Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.ClaimedAt)
}

// Idle is how long since the last heartbeat.
func (l Lease) Idle(now time.Time) time.Duration {
	return now.Sub(l.HeartbeatAt)
}

// Live reports whether the lease is well formed and heartbeated within ttl.
func (l Lease) Live(now time.Time, ttl time.Duration) bool {
	return l.Validate() == nil && l.Idle(now) < ttl
}

// Store persists leases by name. Get returns ErrNotFound when absent.
type Store interface {
	Get(ctx context.Context, name string) (Lease, error)
	Put(ctx context.Context, l Lease) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Lease, error)
}
