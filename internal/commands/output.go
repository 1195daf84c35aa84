package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/styles"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/pkg/iojson"
)

func writeJSON(w io.Writer, v any) error {
	return iojson.WriteWith(w, w, v)
}

func printTasks(w io.Writer, tasks []task.Task) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, styles.MutedStyle.Render("no tasks"))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, styles.HeaderStyle.Render("ID")+"\t"+
		styles.HeaderStyle.Render("STATUS")+"\t"+
		styles.HeaderStyle.Render("PRIORITY")+"\t"+
		styles.HeaderStyle.Render("CATEGORY")+"\t"+
		styles.HeaderStyle.Render("CLAIMED BY")+"\t"+
		styles.HeaderStyle.Render("TITLE"))
	for _, t := range tasks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, styles.Status(t.Status), t.Priority, dash(t.Category), dash(t.ClaimedBy), t.Title)
	}
	return tw.Flush()
}

func printTask(w io.Writer, t task.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value == "" {
			return
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", styles.LabelStyle.Render(label), value)
	}

	row("id", t.ID)
	row("title", t.Title)
	row("status", styles.Status(t.Status))
	row("priority", string(t.Priority))
	row("category", t.Category)
	row("effort", string(t.EstimatedEffort))
	row("depends on", strings.Join(t.Dependencies, ", "))
	row("files", strings.Join(t.FilesInvolved, ", "))
	row("claimed by", t.ClaimedBy)
	if t.ClaimedAt != nil {
		row("claimed at", t.ClaimedAt.Local().Format(time.DateTime))
	}
	row("blocked", t.BlockedReason)
	if t.CompletedAt != nil {
		row("completed", t.CompletedAt.Local().Format(time.DateTime))
	}
	row("created", t.CreatedAt.Local().Format(time.DateTime))
	if err := tw.Flush(); err != nil {
		return err
	}

	if t.Description != "" {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, t.Description)
	}
	return nil
}

func printWorkers(w io.Writer, workers []coordinator.WorkerSession) error {
	if len(workers) == 0 {
		_, err := fmt.Fprintln(w, styles.MutedStyle.Render("no workers"))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, styles.HeaderStyle.Render("WORKER")+"\t"+
		styles.HeaderStyle.Render("TASK")+"\t"+
		styles.HeaderStyle.Render("STATUS")+"\t"+
		styles.HeaderStyle.Render("AGE")+"\t"+
		styles.HeaderStyle.Render("HEARTBEAT")+"\t"+
		styles.HeaderStyle.Render("PROGRESS")+"\t"+
		styles.HeaderStyle.Render("TITLE"))
	for _, s := range workers {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s ago\t%d%%\t%s\n",
			dash(s.WorkerID), s.TaskID, styles.Worker(string(s.Status)),
			seconds(s.AgeSeconds), seconds(s.HeartbeatAgeSeconds), s.Progress, s.Title)
	}
	return tw.Flush()
}

func printMessages(w io.Writer, msgs []messaging.Message) error {
	if len(msgs) == 0 {
		_, err := fmt.Fprintln(w, styles.MutedStyle.Render("no messages"))
		return err
	}

	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "%s %s %s %s\n",
			styles.MutedStyle.Render(m.CreatedAt.Local().Format(time.DateTime)),
			styles.LabelStyle.Render(string(m.Sender)),
			styles.MutedStyle.Render("["+string(m.Status)+" "+m.ID+"]"),
			dash(m.TaskID))
		_, _ = fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(m.Content, "\n", "\n  "))
	}
	return nil
}

func seconds(s int64) string {
	return (time.Duration(s) * time.Second).String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
