package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicate is returned when creating a task whose id is taken.
	ErrDuplicate = errors.New("task already exists")
	// ErrNotOwner is returned when a worker mutates a task it does not hold.
	ErrNotOwner = errors.New("worker does not hold the task lease")
	// ErrNoneAvailable is returned by Next when no task can be claimed.
	ErrNoneAvailable = errors.New("no claimable task available")
	// ErrReasonRequired is returned when blocking without a reason.
	ErrReasonRequired = errors.New("block reason is required")
	// ErrHolderRequired is returned when claiming without a worker id.
	ErrHolderRequired = errors.New("worker id is required")
)

// AlreadyClaimedError reports a claim attempt against a task with a live
// lease.
type AlreadyClaimedError struct {
	TaskID string
	Holder string
	Age    time.Duration
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("task %s already claimed by %s (%s ago)", e.TaskID, e.Holder, e.Age.Round(time.Second))
}

// DependencyNotSatisfiedError reports a claim attempt on a task whose
// dependencies are not all done.
type DependencyNotSatisfiedError struct {
	TaskID  string
	Pending []string
}

func (e *DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("task %s waiting on dependencies: %s", e.TaskID, strings.Join(e.Pending, ", "))
}

// InvalidTransitionError reports a status change the lifecycle does not
// allow. From carries the task's actual status.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

// CorruptRecordError reports a stored task that cannot be decoded or breaks
// its invariants.
type CorruptRecordError struct {
	TaskID string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("task %s: corrupt record: %v", e.TaskID, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }
