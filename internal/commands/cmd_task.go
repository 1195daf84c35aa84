package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/store/jsonfile"
	"github.com/colonyops/crew/pkg/iojson"
)

type TaskCmd struct {
	flags *Flags

	// shared task fields for add and edit
	id          string
	title       string
	description string
	category    string
	priority    string
	effort      string
	deps        []string
	files       []string

	// ls flags
	status     string
	fileGlob   string
	jsonOutput bool

	force bool

	importReader iojson.FileReader[[]task.Task]
}

// NewTaskCmd creates a new task command.
func NewTaskCmd(flags *Flags) *TaskCmd {
	return &TaskCmd{flags: flags}
}

// Register adds the task command to the application.
func (cmd *TaskCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "task",
		Usage: "Create, inspect and manage tasks",
		Description: `Task commands talk to a running coordinator (see --coordinator), except
'import' which writes to the database in --data-dir directly.`,
		Commands: []*cli.Command{
			cmd.addCmd(),
			cmd.lsCmd(),
			cmd.showCmd(),
			cmd.editCmd(),
			cmd.rmCmd(),
			cmd.resetCmd(),
			cmd.importCmd(),
		},
	})

	return app
}

func (cmd *TaskCmd) fieldFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "task title", Destination: &cmd.title},
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "task description", Destination: &cmd.description},
		&cli.StringFlag{Name: "category", Usage: "task category", Destination: &cmd.category},
		&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "low, medium, high or critical", Destination: &cmd.priority},
		&cli.StringFlag{Name: "effort", Usage: "small, medium or large", Destination: &cmd.effort},
		&cli.StringSliceFlag{Name: "dep", Usage: "id of a task this one depends on (repeatable)", Destination: &cmd.deps},
		&cli.StringSliceFlag{Name: "file", Usage: "file the task touches (repeatable)", Destination: &cmd.files},
	}
}

func (cmd *TaskCmd) addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a task",
		UsageText: "crew task add [--id ID] --title TITLE [options]",
		Description: `Creates a todo task. Without --id a short random id is assigned.

Examples:
  crew task add --title "Add login form" --category ui --priority high
  crew task add --id api-auth --title "Auth endpoint" --dep db-schema`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "task id", Destination: &cmd.id},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		}, cmd.fieldFlags()...),
		Action: cmd.runAdd,
	}
}

func (cmd *TaskCmd) runAdd(ctx context.Context, c *cli.Command) error {
	t := task.Task{
		ID:              cmd.id,
		Title:           cmd.title,
		Description:     cmd.description,
		Category:        cmd.category,
		Priority:        task.Priority(cmd.priority),
		EstimatedEffort: task.Effort(cmd.effort),
		Dependencies:    cmd.deps,
		FilesInvolved:   cmd.files,
	}

	created, err := cmd.flags.Client().CreateTask(ctx, t)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	w := c.Root().Writer
	if cmd.jsonOutput {
		return writeJSON(w, created)
	}
	_, err = fmt.Fprintln(w, created.ID)
	return err
}

func (cmd *TaskCmd) lsCmd() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List tasks",
		UsageText: "crew task ls [--status S] [--category C] [--file GLOB] [--json]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "todo, in_progress, blocked or done", Destination: &cmd.status},
			&cli.StringFlag{Name: "category", Usage: "only this category", Destination: &cmd.category},
			&cli.StringFlag{Name: "file", Usage: "glob matched against involved files (supports **)", Destination: &cmd.fileGlob},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		},
		Action: cmd.runLs,
	}
}

func (cmd *TaskCmd) runLs(ctx context.Context, c *cli.Command) error {
	filter := task.ListFilter{Category: cmd.category, File: cmd.fileGlob}
	if cmd.status != "" {
		s, err := task.ParseStatus(cmd.status)
		if err != nil {
			return err
		}
		filter.Status = s
	}

	tasks, err := cmd.flags.Client().ListTasks(ctx, filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, tasks)
	}
	return printTasks(c.Root().Writer, tasks)
}

func (cmd *TaskCmd) showCmd() *cli.Command {
	return &cli.Command{
		Name:          "show",
		Usage:         "Show a task",
		UsageText:     "crew task show <id> [--json]",
		ShellComplete: TaskIDCompleter(cmd.flags),
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		},
		Action: cmd.runShow,
	}
}

func (cmd *TaskCmd) runShow(ctx context.Context, c *cli.Command) error {
	id, err := taskArg(c)
	if err != nil {
		return err
	}

	t, err := cmd.flags.Client().GetTask(ctx, id)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, t)
	}
	return printTask(c.Root().Writer, t)
}

func (cmd *TaskCmd) editCmd() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change task fields",
		UsageText: "crew task edit <id> [options]",
		Description: `Changes the given fields only. Status is not editable here: use the worker,
approve and reset commands.

Passing --dep or --file replaces the whole list.`,
		ShellComplete: TaskIDCompleter(cmd.flags),
		Flags:         cmd.fieldFlags(),
		Action:        cmd.runEdit,
	}
}

func (cmd *TaskCmd) runEdit(ctx context.Context, c *cli.Command) error {
	id, err := taskArg(c)
	if err != nil {
		return err
	}

	p := cmd.patch(c)
	if p.Empty() {
		return fmt.Errorf("nothing to change")
	}

	t, err := cmd.flags.Client().UpdateTask(ctx, id, p)
	if err != nil {
		return err
	}
	return printTask(c.Root().Writer, t)
}

// patch builds a Patch from the flags the user actually set.
func (cmd *TaskCmd) patch(c *cli.Command) task.Patch {
	var p task.Patch
	if c.IsSet("title") {
		p.Title = &cmd.title
	}
	if c.IsSet("description") {
		p.Description = &cmd.description
	}
	if c.IsSet("category") {
		p.Category = &cmd.category
	}
	if c.IsSet("priority") {
		pr := task.Priority(cmd.priority)
		p.Priority = &pr
	}
	if c.IsSet("effort") {
		e := task.Effort(cmd.effort)
		p.EstimatedEffort = &e
	}
	if c.IsSet("dep") {
		p.Dependencies = &cmd.deps
	}
	if c.IsSet("file") {
		p.FilesInvolved = &cmd.files
	}
	return p
}

func (cmd *TaskCmd) rmCmd() *cli.Command {
	return &cli.Command{
		Name:          "rm",
		Usage:         "Delete a task",
		UsageText:     "crew task rm <id>",
		ShellComplete: TaskIDCompleter(cmd.flags),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := taskArg(c)
			if err != nil {
				return err
			}
			if err := cmd.flags.Client().DeleteTask(ctx, id); err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.Root().Writer, "deleted %s\n", id)
			return err
		},
	}
}

func (cmd *TaskCmd) resetCmd() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Return a task to todo",
		UsageText: "crew task reset <id> [--force]",
		Description: `Drops the task's claim and lease and puts it back in the queue.

A task with a live lease is only reset with --force.`,
		ShellComplete: TaskIDCompleter(cmd.flags),
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "reset even while a worker holds a live lease", Destination: &cmd.force},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := taskArg(c)
			if err != nil {
				return err
			}
			t, err := cmd.flags.Client().Reset(ctx, id, cmd.force)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.Root().Writer, "%s is %s\n", t.ID, t.Status)
			return err
		},
	}
}

func (cmd *TaskCmd) importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import tasks from a JSON or YAML file",
		UsageText: "crew task import [-f tasks.json] [--json]",
		Description: `Creates every task in the input whose id does not exist yet. Existing ids are
skipped, never overwritten.

The file may be a JSON array, a {"tasks": [...]} object, or the YAML
equivalent (by .yaml/.yml extension). Without -f a JSON array is read from
stdin.

Import writes to the database directly, so it works without a running
coordinator.`,
		Flags: []cli.Flag{
			cmd.importReader.Flag(),
			&cli.BoolFlag{Name: "json", Usage: "output the result as JSON", Destination: &cmd.jsonOutput},
		},
		Action: cmd.runImport,
	}
}

func (cmd *TaskCmd) runImport(ctx context.Context, c *cli.Command) error {
	var (
		tasks []task.Task
		err   error
	)
	if path := cmd.importReader.Path(); path != "" {
		tasks, err = jsonfile.LoadTaskFile(path)
	} else {
		tasks, err = cmd.importReader.Read()
	}
	if err != nil {
		return err
	}

	svc, closeDB, err := cmd.flags.OpenService(nil)
	if err != nil {
		return err
	}
	defer func() { _ = closeDB() }()

	res, err := svc.ImportTasks(ctx, tasks)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	w := c.Root().Writer
	if cmd.jsonOutput {
		return writeJSON(w, res)
	}
	_, err = fmt.Fprintf(w, "created %d, skipped %d\n", len(res.Created), len(res.Skipped))
	return err
}

func taskArg(c *cli.Command) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one task id")
	}
	return c.Args().First(), nil
}
