// Package task defines the work item domain model shared by the coordinator,
// its stores and its clients.
package task

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusBlocked, StatusDone}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Claimed reports whether a task in this status must have a holder.
func (s Status) Claimed() bool {
	return s == StatusInProgress || s == StatusBlocked
}

// ParseStatus converts a user supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Priority orders tasks in the queue. Higher priorities are handed out first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every priority from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Rank returns the numeric weight of p; unknown values rank below low.
func (p Priority) Rank() int {
	return slices.Index(Priorities, p)
}

func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority converts a user supplied string into a Priority. An empty
// string maps to medium.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Effort is a coarse size estimate used for progress reporting.
type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

// Valid reports whether e is empty or a known effort.
func (e Effort) Valid() bool {
	switch e {
	case "", EffortSmall, EffortMedium, EffortLarge:
		return true
	}
	return false
}

// Duration is the expected wall time for a task of this size.
func (e Effort) Duration() time.Duration {
	switch e {
	case EffortSmall:
		return 10 * time.Minute
	case EffortLarge:
		return 60 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// Task is a unit of work tracked through the status lifecycle.
//
// JSON field names follow the camelCase layout of task files written by
// generators so they can be imported as-is.
type Task struct {
	ID              string     `json:"id"                        yaml:"id"`
	Title           string     `json:"title"                     yaml:"title"`
	Description     string     `json:"description,omitempty"     yaml:"description,omitempty"`
	Category        string     `json:"category,omitempty"        yaml:"category,omitempty"`
	Priority        Priority   `json:"priority"                  yaml:"priority"`
	Status          Status     `json:"status"                    yaml:"status"`
	Dependencies    []string   `json:"dependencies,omitempty"    yaml:"dependencies,omitempty"`
	EstimatedEffort Effort     `json:"estimatedEffort,omitempty" yaml:"estimatedEffort,omitempty"`
	FilesInvolved   []string   `json:"filesInvolved,omitempty"   yaml:"filesInvolved,omitempty"`
	BlockedReason   string     `json:"blockedReason,omitempty"   yaml:"blockedReason,omitempty"`
	ClaimedBy       string     `json:"claimedBy,omitempty"       yaml:"claimedBy,omitempty"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"       yaml:"claimedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"                 yaml:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"                 yaml:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"     yaml:"completedAt,omitempty"`
}

// SessionKey is the message session used for conversations about the task.
func (t Task) SessionKey() string {
	return SessionKey(t.ID)
}

// SessionKey returns the message session key for a task id.
func SessionKey(id string) string {
	return "task:" + id
}

// TaskIDFromSession extracts the task id from a session key produced by
// SessionKey. ok is false for sessions that are not about a task.
func TaskIDFromSession(sessionKey string) (id string, ok bool) {
	id, ok = strings.CutPrefix(sessionKey, "task:")
	return id, ok && id != ""
}

// Validate checks the fields a creator controls.
func (t Task) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("title", t.Title, notBlank),
		criterio.Run("priority", string(t.Priority), func(p string) error {
			if !Priority(p).Valid() {
				return fmt.Errorf("unknown priority %q", p)
			}
			return nil
		}),
		criterio.Run("estimatedEffort", string(t.EstimatedEffort), func(e string) error {
			if !Effort(e).Valid() {
				return fmt.Errorf("unknown effort %q", e)
			}
			return nil
		}),
		t.validateDependencies(),
	)
}

// CheckInvariants verifies the relationships between status and the claim
// and completion fields. Stores call it when loading a record to detect
// corruption.
func (t Task) CheckInvariants() error {
	var errs criterio.FieldErrorsBuilder

	if !t.Status.Valid() {
		errs = errs.Append("status", fmt.Errorf("unknown status %q", t.Status))
	}
	if t.Status.Claimed() != (t.ClaimedBy != "") {
		errs = errs.Append("claimedBy", fmt.Errorf("claimedBy=%q inconsistent with status %s", t.ClaimedBy, t.Status))
	}
	if (t.Status == StatusDone) != (t.CompletedAt != nil) {
		errs = errs.Append("completedAt", fmt.Errorf("completedAt inconsistent with status %s", t.Status))
	}
	if (t.Status == StatusBlocked) != (t.BlockedReason != "") {
		errs = errs.Append("blockedReason", fmt.Errorf("blockedReason inconsistent with status %s", t.Status))
	}

	return errs.ToError()
}

func (t Task) validateDependencies() error {
	var errs criterio.FieldErrorsBuilder
	seen := make(map[string]bool, len(t.Dependencies))
	for i, dep := range t.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		switch {
		case strings.TrimSpace(dep) == "":
			errs = errs.Append(field, fmt.Errorf("is empty"))
		case t.ID != "" && dep == t.ID:
			errs = errs.Append(field, fmt.Errorf("task cannot depend on itself"))
		case seen[dep]:
			errs = errs.Append(field, fmt.Errorf("duplicate dependency %q", dep))
		}
		seen[dep] = true
	}
	return errs.ToError()
}

func notBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

// Patch holds the editable fields of a task. Nil fields are left unchanged.
// Status is deliberately absent: status only changes through transitions.
type Patch struct {
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Category        *string   `json:"category,omitempty"`
	Priority        *Priority `json:"priority,omitempty"`
	Dependencies    *[]string `json:"dependencies,omitempty"`
	EstimatedEffort *Effort   `json:"estimatedEffort,omitempty"`
	FilesInvolved   *[]string `json:"filesInvolved,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply returns a copy of t with the patch applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Dependencies != nil {
		t.Dependencies = slices.Clone(*p.Dependencies)
	}
	if p.EstimatedEffort != nil {
		t.EstimatedEffort = *p.EstimatedEffort
	}
	if p.FilesInvolved != nil {
		t.FilesInvolved = slices.Clone(*p.FilesInvolved)
	}
	return t
}

// Less orders tasks by descending priority, then ascending creation time,
// then id so the ordering is total.
func Less(a, b Task) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Compare is Less in the form expected by slices.SortStableFunc.
func Compare(a, b Task) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	}
	return 0
}
