package task

import "time"

// transitions is the complete lifecycle graph. Anything not listed is
// rejected.
var transitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress},
	StatusInProgress: {StatusBlocked, StatusDone, StatusTodo},
	StatusBlocked:    {StatusInProgress, StatusTodo},
	StatusDone:       {},
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Change describes a requested status change and the data that accompanies
// it.
type Change struct {
	To     Status
	Holder string // required when To is in_progress from todo
	Reason string // required when To is blocked
	At     time.Time
}

// Transition returns a copy of t moved to c.To with the dependent fields
// updated so the result satisfies CheckInvariants. It never mutates t and
// returns *InvalidTransitionError when the move is not in the graph.
func Transition(t Task, c Change) (Task, error) {
	if !CanTransition(t.Status, c.To) {
		return t, &InvalidTransitionError{TaskID: t.ID, From: t.Status, To: c.To}
	}

	switch {
	case c.To == StatusBlocked && c.Reason == "":
		return t, ErrReasonRequired
	case t.Status == StatusTodo && c.Holder == "":
		return t, ErrHolderRequired
	}

	next := t
	next.UpdatedAt = c.At

	switch c.To {
	case StatusInProgress:
		if t.Status == StatusTodo {
			at := c.At
			next.ClaimedBy = c.Holder
			next.ClaimedAt = &at
		}
		next.BlockedReason = ""
	case StatusBlocked:
		next.BlockedReason = c.Reason
	case StatusDone:
		at := c.At
		next.CompletedAt = &at
		next.ClaimedBy = ""
		next.ClaimedAt = nil
		next.BlockedReason = ""
	case StatusTodo:
		next.ClaimedBy = ""
		next.ClaimedAt = nil
		next.BlockedReason = ""
	}

	next.Status = c.To
	return next, nil
}
