package task

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status   Status
	Category string
	// File is a doublestar glob matched against FilesInvolved.
	File string
}

// Match reports whether t passes the filter.
func (f ListFilter) Match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.File != "" {
		for _, path := range t.FilesInvolved {
			if ok, _ := doublestar.Match(f.File, path); ok {
				return true
			}
		}
		return false
	}
	return true
}

// Store persists tasks. Implementations return ErrNotFound and ErrDuplicate
// for the matching conditions and keep List ordered by Less.
type Store interface {
	Get(ctx context.Context, id string) (Task, error)
	List(ctx context.Context, filter ListFilter) ([]Task, error)
	// Create stores a new task in todo. It fills ID when empty.
	Create(ctx context.Context, t Task) (Task, error)
	Update(ctx context.Context, id string, p Patch) (Task, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// PendingDependencies returns the ids in deps that are not done according to
// status. Unknown ids count as pending.
func PendingDependencies(deps []string, status map[string]Status) []string {
	var pending []string
	for _, dep := range deps {
		if status[dep] != StatusDone {
			pending = append(pending, dep)
		}
	}
	return pending
}
