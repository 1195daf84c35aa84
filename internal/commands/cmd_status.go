package commands

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/styles"
	"github.com/colonyops/crew/internal/core/task"
)

type StatusCmd struct {
	flags *Flags

	history    int
	jsonOutput bool
}

// NewStatusCmd creates a new status command.
func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

// Register adds the status command to the application.
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "status",
		Usage:     "Show progress, the queue and active workers",
		UsageText: "crew status [--history N] [--json]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "history", Usage: "recent completions to show", Value: 5, Destination: &cmd.history},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		},
		Action: cmd.run,
	})

	return app
}

type statusReport struct {
	Stats   coordinator.Stats           `json:"stats"`
	Queue   coordinator.Queue           `json:"queue"`
	Workers []coordinator.WorkerSession `json:"workers"`
	History []task.Task                 `json:"history"`
}

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	client := cmd.flags.Client()

	var r statusReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { r.Stats, err = client.Stats(gctx); return })
	g.Go(func() (err error) { r.Queue, err = client.Queue(gctx); return })
	g.Go(func() (err error) { r.Workers, err = client.Workers(gctx); return })
	g.Go(func() (err error) { r.History, err = client.History(gctx, cmd.history); return })
	if err := g.Wait(); err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, r)
	}
	return renderStatus(c.Root().Writer, r)
}

func renderStatus(w io.Writer, r statusReport) error {
	s := r.Stats

	pct := 0
	if s.Total > 0 {
		pct = s.Done * 100 / s.Total
	}

	summary := strings.Join([]string{
		styles.HeaderStyle.Render(fmt.Sprintf("%d/%d done (%d%%)", s.Done, s.Total, pct)) +
			styles.MutedStyle.Render(fmt.Sprintf("  %d today", s.CompletedToday)),
		fmt.Sprintf("%s %d  %s %d  %s %d  %s %d",
			styles.Status(task.StatusInProgress), s.InProgress,
			styles.Status(task.StatusBlocked), s.Blocked,
			styles.LabelStyle.Render("available"), s.Available,
			styles.MutedStyle.Render("waiting"), s.Waiting),
		fmt.Sprintf("%s %d  %s %d",
			styles.Worker(string(coordinator.WorkerActive)), s.ActiveWorkers,
			styles.Worker(string(coordinator.WorkerStale)), s.StaleWorkers),
	}, "\n")

	blocks := []string{styles.BoxStyle.Render(summary)}

	if len(s.Categories) > 0 {
		names := make([]string, 0, len(s.Categories))
		for name := range s.Categories {
			names = append(names, name)
		}
		slices.Sort(names)

		lines := []string{styles.HeaderStyle.Render("Categories")}
		for _, name := range names {
			cs := s.Categories[name]
			lines = append(lines, fmt.Sprintf("%-16s %d/%d", name, cs.Done, cs.Total))
		}
		blocks = append(blocks, styles.BoxStyle.Render(strings.Join(lines, "\n")))
	}

	if _, err := fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, blocks...)); err != nil {
		return err
	}

	section := func(title string) {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, styles.HeaderStyle.Render(title))
	}

	section("Workers")
	if err := printWorkers(w, r.Workers); err != nil {
		return err
	}

	section("Available")
	if err := printTasks(w, r.Queue.Available); err != nil {
		return err
	}

	if len(r.Queue.Waiting) > 0 {
		section("Waiting on dependencies")
		if err := printTasks(w, r.Queue.Waiting); err != nil {
			return err
		}
	}

	if len(r.History) > 0 {
		section("Recently completed")
		for _, t := range r.History {
			when := ""
			if t.CompletedAt != nil {
				when = t.CompletedAt.Local().Format("Jan 2 15:04")
			}
			_, _ = fmt.Fprintf(w, "%s  %s  %s\n", styles.MutedStyle.Render(when), t.ID, t.Title)
		}
	}
	return nil
}
