package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/styles"
	"github.com/colonyops/crew/internal/core/task"
)

type ApproveCmd struct {
	flags *Flags

	response string
	by       string
}

// NewApproveCmd creates the approve and approvals commands.
func NewApproveCmd(flags *Flags) *ApproveCmd {
	return &ApproveCmd{flags: flags}
}

// Register adds the approve and approvals commands to the application.
func (cmd *ApproveCmd) Register(app *cli.Command) *cli.Command {
	byFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:        "by",
			Usage:       "who approved (defaults to the current user)",
			Destination: &cmd.by,
		}
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "approve",
			Usage:     "Unblock a blocked task",
			UsageText: "crew approve <task-id> [--response TEXT]",
			Description: `Moves a blocked task back to in_progress for the worker that blocked it.

The --response text is delivered to the worker as a reply in the task's
session.`,
			ShellComplete: TaskIDCompleter(cmd.flags),
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "response", Aliases: []string{"r"}, Usage: "reply to the worker", Destination: &cmd.response},
				byFlag(),
			},
			Action: cmd.runApprove,
		},
		&cli.Command{
			Name:        "approvals",
			Usage:       "Review blocked tasks interactively",
			UsageText:   "crew approvals",
			Description: "Shows every blocked task with its reason and lets you approve one with an optional reply.",
			Flags:       []cli.Flag{byFlag()},
			Action:      cmd.runApprovals,
		},
	)

	return app
}

func (cmd *ApproveCmd) runApprove(ctx context.Context, c *cli.Command) error {
	id, err := taskArg(c)
	if err != nil {
		return err
	}
	return cmd.approve(ctx, c, id, cmd.response)
}

func (cmd *ApproveCmd) approve(ctx context.Context, c *cli.Command, id, response string) error {
	t, err := cmd.flags.Client().Approve(ctx, id, api.ApproveRequest{Response: response, By: cmd.approver()})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Root().Writer, "%s approved, back with %s\n", t.ID, t.ClaimedBy)
	return err
}

func (cmd *ApproveCmd) approver() string {
	if cmd.by != "" {
		return cmd.by
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func (cmd *ApproveCmd) runApprovals(ctx context.Context, c *cli.Command) error {
	blocked, err := cmd.flags.Client().ListTasks(ctx, task.ListFilter{Status: task.StatusBlocked})
	if err != nil {
		return err
	}
	if len(blocked) == 0 {
		_, err := fmt.Fprintln(c.Root().Writer, styles.MutedStyle.Render("nothing is waiting for approval"))
		return err
	}

	var (
		id       string
		response string
		confirm  = true
	)

	options := make([]huh.Option[string], 0, len(blocked))
	for _, t := range blocked {
		options = append(options, huh.NewOption(approvalLabel(t), t.ID))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Blocked tasks").
				Options(options...).
				Value(&id),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Reply").
				Description("Sent to the worker with the approval (optional)").
				Value(&response),
			huh.NewConfirm().
				Title("Approve?").
				Value(&confirm),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return fmt.Errorf("form: %w", err)
	}
	if !confirm {
		return nil
	}

	return cmd.approve(ctx, c, id, response)
}

func approvalLabel(t task.Task) string {
	return fmt.Sprintf("%s  %s  (%s: %s)", t.ID, t.Title, dash(t.ClaimedBy), t.BlockedReason)
}
