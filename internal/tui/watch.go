// Package tui holds the live terminal views.
package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/styles"
	"github.com/colonyops/crew/internal/core/task"
)

// maxFeed is how many activity lines the feed keeps.
const maxFeed = 200

// EventSource yields coordinator events, starting with the init snapshot.
type EventSource interface {
	Next(ctx context.Context) (coordinator.Event, error)
}

type eventMsg coordinator.Event

type streamErrMsg struct{ err error }

// WatchModel is a live view of tasks, workers and activity.
type WatchModel struct {
	ctx    context.Context
	source EventSource

	tasks   map[string]task.Task
	holders map[string]string // task id -> worker id
	feed    []string
	ready   bool
	err     error

	spinner spinner.Model
	feedVP  viewport.Model
	width   int
	height  int
	now     func() time.Time
}

// NewWatchModel builds the model. Events are read from source until ctx ends.
func NewWatchModel(ctx context.Context, source EventSource) WatchModel {
	return WatchModel{
		ctx:     ctx,
		source:  source,
		tasks:   make(map[string]task.Task),
		holders: make(map[string]string),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		feedVP:  viewport.New(80, 10),
		now:     time.Now,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m WatchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.source.Next(m.ctx)
		if err != nil {
			return streamErrMsg{err: err}
		}
		return eventMsg(ev)
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.feedVP, cmd = m.feedVP.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.feedVP.Width = msg.Width
		m.feedVP.Height = max(3, msg.Height/3)
		m.feedVP.SetContent(strings.Join(m.feed, "\n"))
		return m, nil

	case eventMsg:
		m = m.apply(coordinator.Event(msg))
		return m, m.waitForEvent()

	case streamErrMsg:
		m.err = msg.err
		if errors.Is(msg.err, context.Canceled) {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds one event into the view state.
func (m WatchModel) apply(ev coordinator.Event) WatchModel {
	if ev.Type == coordinator.EventInit {
		m.ready = true
		clear(m.tasks)
		clear(m.holders)
		for _, t := range ev.Tasks {
			m.tasks[t.ID] = t
		}
		for _, w := range ev.Workers {
			m.holders[w.TaskID] = w.WorkerID
		}
		return m
	}

	if ev.Task != nil {
		m.tasks[ev.Task.ID] = *ev.Task
	}
	for _, t := range ev.Unblocked {
		m.tasks[t.ID] = t
	}

	switch ev.Type {
	case eventbus.EventTaskDeleted:
		delete(m.tasks, ev.TaskID)
		delete(m.holders, ev.TaskID)
	case eventbus.EventTaskClaimed:
		m.holders[ev.TaskID] = ev.WorkerID
	case eventbus.EventTaskReleased, eventbus.EventTaskCompleted, eventbus.EventTaskReset, eventbus.EventLeaseReclaimed:
		delete(m.holders, ev.TaskID)
	}

	if line := describe(ev); line != "" {
		at := ev.At
		if at.IsZero() {
			at = m.now()
		}
		m.feed = append(m.feed, styles.MutedStyle.Render(at.Local().Format("15:04:05"))+" "+line)
		if len(m.feed) > maxFeed {
			m.feed = m.feed[len(m.feed)-maxFeed:]
		}
		m.feedVP.SetContent(strings.Join(m.feed, "\n"))
		m.feedVP.GotoBottom()
	}
	return m
}

func describe(ev coordinator.Event) string {
	who := ev.WorkerID
	switch ev.Type {
	case eventbus.EventTaskCreated:
		return fmt.Sprintf("created %s", ev.TaskID)
	case eventbus.EventTaskClaimed:
		return fmt.Sprintf("%s claimed %s", who, ev.TaskID)
	case eventbus.EventTaskReleased:
		return fmt.Sprintf("%s released %s", who, ev.TaskID)
	case eventbus.EventTaskBlocked:
		reason := ""
		if ev.Task != nil {
			reason = ev.Task.BlockedReason
		}
		return styles.WarningStyle.Render(fmt.Sprintf("%s blocked: %s", ev.TaskID, reason))
	case eventbus.EventTaskApproved:
		return fmt.Sprintf("%s approved", ev.TaskID)
	case eventbus.EventTaskCompleted:
		line := styles.SuccessStyle.Render(fmt.Sprintf("%s done", ev.TaskID))
		if n := len(ev.Unblocked); n > 0 {
			line += fmt.Sprintf(", %d unblocked", n)
		}
		return line
	case eventbus.EventTaskReset:
		return fmt.Sprintf("%s reset", ev.TaskID)
	case eventbus.EventLeaseReclaimed:
		return styles.WarningStyle.Render(fmt.Sprintf("%s reclaimed (%s)", ev.TaskID, ev.Cause))
	case eventbus.EventTaskDeleted:
		return fmt.Sprintf("deleted %s", ev.TaskID)
	case eventbus.EventMessagePublished:
		if ev.Message != nil {
			return fmt.Sprintf("%s %s: %s", ev.Message.SessionKey, ev.Message.Sender, firstLine(ev.Message.Content))
		}
	case eventbus.EventNotificationPublished:
		if ev.Notification != nil {
			return styles.LabelStyle.Render(ev.Notification.Message)
		}
	}
	return ""
}

func (m WatchModel) View() string {
	if m.err != nil && !m.ready {
		return styles.ErrorStyle.Render("stream error: "+m.err.Error()) + "\n"
	}
	if !m.ready {
		return m.spinner.View() + " connecting to coordinator...\n"
	}

	var b strings.Builder
	b.WriteString(m.summary())
	b.WriteString("\n\n")
	b.WriteString(m.taskLines())
	b.WriteString("\n")
	b.WriteString(styles.HeaderStyle.Render("Activity"))
	b.WriteString("\n")
	b.WriteString(m.feedVP.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(styles.ErrorStyle.Render("stream ended: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(styles.MutedStyle.Render("q quit • ↑/↓ scroll activity"))
	return b.String()
}

func (m WatchModel) counts() map[task.Status]int {
	counts := make(map[task.Status]int, 4)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts
}

func (m WatchModel) summary() string {
	c := m.counts()
	parts := []string{
		styles.HeaderStyle.Render(fmt.Sprintf("%d/%d done", c[task.StatusDone], len(m.tasks))),
	}
	for _, s := range []task.Status{task.StatusInProgress, task.StatusBlocked, task.StatusTodo} {
		parts = append(parts, fmt.Sprintf("%s %d", styles.Status(s), c[s]))
	}
	parts = append(parts, fmt.Sprintf("%s %d", styles.LabelStyle.Render("workers"), len(m.holders)))
	return styles.BoxStyle.Render(strings.Join(parts, "   "))
}

// taskLines lists open tasks: in progress and blocked first, then todo.
func (m WatchModel) taskLines() string {
	open := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status != task.StatusDone {
			open = append(open, t)
		}
	}
	slices.SortFunc(open, func(a, b task.Task) int {
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra - rb
		}
		return task.Compare(a, b)
	})

	limit := len(open)
	if m.height > 0 {
		limit = min(limit, max(3, m.height-m.feedVP.Height-8))
	}

	var b strings.Builder
	for _, t := range open[:limit] {
		holder := m.holders[t.ID]
		if holder == "" {
			holder = t.ClaimedBy
		}
		fmt.Fprintf(&b, "%-12s %-22s %-10s %s\n", t.ID, styles.Status(t.Status), holder, t.Title)
	}
	if hidden := len(open) - limit; hidden > 0 {
		b.WriteString(styles.MutedStyle.Render(fmt.Sprintf("... %d more", hidden)))
		b.WriteString("\n")
	}
	if len(open) == 0 {
		b.WriteString(styles.MutedStyle.Render("no open tasks"))
		b.WriteString("\n")
	}
	return b.String()
}

func statusRank(s task.Status) int {
	switch s {
	case task.StatusInProgress:
		return 0
	case task.StatusBlocked:
		return 1
	default:
		return 2
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
