package stores

import (
	"context"
	"time"

	"github.com/colonyops/crew/internal/data/db"
)

// conn runs queries either against the pool or inside a transaction that a
// caller already opened. db is nil in the second case.
type conn struct {
	db *db.DB
	q  *db.Queries
}

// tx runs fn in its own transaction, or directly when already bound to one.
func (c conn) tx(ctx context.Context, fn func(*db.Queries) error) error {
	if c.db == nil {
		return fn(c.q)
	}
	return c.db.WithTx(ctx, fn)
}

// RepoOptions configures the stores built by NewRepo.
type RepoOptions struct {
	// MessageRetention caps messages kept per session. Zero keeps all.
	MessageRetention int
	// Now is the clock used for timestamps the stores fill in.
	Now func() time.Time
}

// Repo groups the stores so a caller can run several of them in one
// transaction.
type Repo struct {
	Tasks    *TaskStore
	Leases   *LeaseStore
	Messages *MessageStore

	db   *db.DB
	opts RepoOptions
}

// NewRepo builds stores over the connection pool.
func NewRepo(database *db.DB, opts RepoOptions) *Repo {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := newRepo(conn{db: database, q: database.Queries()}, opts)
	r.db = database
	return r
}

func newRepo(c conn, opts RepoOptions) *Repo {
	return &Repo{
		Tasks:    &TaskStore{c: c, now: opts.Now},
		Leases:   &LeaseStore{c: c},
		Messages: &MessageStore{c: c, retention: opts.MessageRetention, now: opts.Now},
		opts:     opts,
	}
}

// InTx runs fn with stores bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise. Calling InTx on a
// repo that is already transaction-bound runs fn inline.
func (r *Repo) InTx(ctx context.Context, fn func(*Repo) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithTx(ctx, func(q *db.Queries) error {
		return fn(newRepo(conn{q: q}, r.opts))
	})
}
