package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
)

type MsgCmd struct {
	flags *Flags

	taskID     string
	session    string
	sender     string
	file       string
	recipient  string
	status     string
	response   string
	limit      int
	jsonOutput bool

}

// NewMsgCmd creates a new msg command.
func NewMsgCmd(flags *Flags) *MsgCmd {
	return &MsgCmd{flags: flags}
}

// Register adds the msg command to the application.
func (cmd *MsgCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "msg",
		Usage: "Send and read messages between workers and humans",
		Description: `Messages belong to a session, normally the task's session "task:<id>".

A message goes to the opposite party of its sender: worker messages reach
humans, human and system messages reach workers. Each message moves
pending -> delivered -> read and never back.`,
		Commands: []*cli.Command{
			cmd.sendCmd(),
			cmd.pendingCmd(),
			cmd.ackCmd(),
			cmd.historyCmd(),
		},
	})

	return app
}

func (cmd *MsgCmd) sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "task id (session task:<id>)", Destination: &cmd.taskID},
		&cli.StringFlag{Name: "session", Usage: "explicit session key", Destination: &cmd.session},
	}
}

// sessionKey resolves --session, falling back to the task's session.
func (cmd *MsgCmd) sessionKey() string {
	if cmd.session != "" {
		return cmd.session
	}
	if cmd.taskID != "" {
		return task.SessionKey(cmd.taskID)
	}
	return ""
}

func (cmd *MsgCmd) sendCmd() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		UsageText: "crew msg send (--task ID | --session KEY) [--sender human] [message]",
		Description: `Sends a message into a session.

The message can be provided as:
- A command-line argument
- From a file with -f/--file
- From stdin if no argument is provided

Examples:
  crew msg send --task api-auth "use the staging credentials"
  crew msg send --task api-auth --sender worker "still waiting on the schema"
  echo "ship it" | crew msg send --session task:api-auth`,
		Flags: append(cmd.sessionFlags(),
			&cli.StringFlag{Name: "sender", Aliases: []string{"s"}, Usage: "worker, human or system", Value: string(messaging.SenderHuman), Destination: &cmd.sender},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read message from file", Destination: &cmd.file},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		),
		Action: cmd.runSend,
	}
}

func (cmd *MsgCmd) runSend(ctx context.Context, c *cli.Command) error {
	session := cmd.sessionKey()
	if session == "" {
		return fmt.Errorf("pass --task or --session")
	}

	content, err := cmd.content(c)
	if err != nil {
		return err
	}

	m, err := cmd.flags.Client().Publish(ctx, api.PublishRequest{
		SessionKey: session,
		TaskID:     cmd.taskID,
		Sender:     messaging.Sender(cmd.sender),
		Content:    content,
	})
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, m)
	}
	_, err = fmt.Fprintln(c.Root().Writer, m.ID)
	return err
}

func (cmd *MsgCmd) content(c *cli.Command) (string, error) {
	if c.Args().Len() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}

	if cmd.file != "" {
		data, err := os.ReadFile(cmd.file)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	r := c.Root().Reader
	if r == nil {
		r = os.Stdin
	}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no message provided (pass an argument, -f, or pipe stdin)")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (cmd *MsgCmd) pendingCmd() *cli.Command {
	return &cli.Command{
		Name:      "pending",
		Usage:     "List messages not delivered yet",
		UsageText: "crew msg pending [--recipient worker|human] [--task ID | --session KEY]",
		Flags: append(cmd.sessionFlags(),
			&cli.StringFlag{Name: "recipient", Usage: "worker or human", Destination: &cmd.recipient},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		),
		Action: cmd.runPending,
	}
}

func (cmd *MsgCmd) runPending(ctx context.Context, c *cli.Command) error {
	filter := messaging.PendingFilter{SessionKey: cmd.session, TaskID: cmd.taskID}
	if cmd.recipient != "" {
		r, err := messaging.ParseRecipient(cmd.recipient)
		if err != nil {
			return err
		}
		filter.Recipient = r
	}

	msgs, err := cmd.flags.Client().PendingMessages(ctx, filter)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, msgs)
	}
	return printMessages(c.Root().Writer, msgs)
}

func (cmd *MsgCmd) ackCmd() *cli.Command {
	return &cli.Command{
		Name:      "ack",
		Usage:     "Mark a message delivered or read",
		UsageText: "crew msg ack <message-id> [--status read|delivered] [--response TEXT]",
		Description: `Advances a message's status. With --response a reply is sent back into the
same session from the other party.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "delivered or read", Value: string(messaging.StatusRead), Destination: &cmd.status},
			&cli.StringFlag{Name: "response", Aliases: []string{"r"}, Usage: "reply content", Destination: &cmd.response},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		},
		Action: cmd.runAck,
	}
}

func (cmd *MsgCmd) runAck(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one message id")
	}
	status := messaging.Status(cmd.status)
	if !status.Valid() || status == messaging.StatusPending {
		return fmt.Errorf("invalid status %q: use delivered or read", cmd.status)
	}

	res, err := cmd.flags.Client().SetMessageStatus(ctx, c.Args().First(), status, cmd.response)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	if cmd.jsonOutput {
		return writeJSON(w, res)
	}
	_, _ = fmt.Fprintf(w, "%s is %s\n", res.Message.ID, res.Message.Status)
	if res.Response != nil {
		_, _ = fmt.Fprintf(w, "reply %s sent\n", res.Response.ID)
	}
	return nil
}

func (cmd *MsgCmd) historyCmd() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show a session's messages, oldest first",
		UsageText: "crew msg history (--task ID | --session KEY) [--limit N]",
		Flags: append(cmd.sessionFlags(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "most recent messages to show", Value: 100, Destination: &cmd.limit},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput},
		),
		Action: cmd.runHistory,
	}
}

func (cmd *MsgCmd) runHistory(ctx context.Context, c *cli.Command) error {
	session := cmd.sessionKey()
	if session == "" {
		return fmt.Errorf("pass --task or --session")
	}

	msgs, err := cmd.flags.Client().Messages(ctx, session, cmd.limit)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, msgs)
	}
	return printMessages(c.Root().Writer, msgs)
}
