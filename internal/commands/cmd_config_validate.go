package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/core/styles"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "crew config validate [options]",
				Description: "Validates the configuration file, rendering notice templates with sample data and checking vars files and the data directory.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

type validationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (cmd *ConfigValidateCmd) run(_ context.Context, c *cli.Command) error {
	issues := validationIssues(cmd.flags.config().ValidateDeep(cmd.flags.ConfigPath))

	w := c.Root().Writer
	if cmd.format == "json" {
		if err := writeJSON(w, struct {
			Valid  bool              `json:"valid"`
			Errors []validationIssue `json:"errors,omitempty"`
		}{Valid: len(issues) == 0, Errors: issues}); err != nil {
			return err
		}
	} else {
		printIssues(w, issues)
	}

	if len(issues) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func validationIssues(err error) []validationIssue {
	if err == nil {
		return nil
	}

	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return []validationIssue{{Message: err.Error()}}
	}

	issues := make([]validationIssue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, validationIssue{Field: fe.Field, Message: fe.Err.Error()})
	}
	return issues
}

func printIssues(w io.Writer, issues []validationIssue) {
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(w, styles.SuccessStyle.Render("Configuration is valid"))
		return
	}

	for _, is := range issues {
		if is.Field != "" {
			_, _ = fmt.Fprintf(w, "%s %s\n", styles.ErrorStyle.Render(is.Field+":"), is.Message)
			continue
		}
		_, _ = fmt.Fprintln(w, styles.ErrorStyle.Render(is.Message))
	}
	_, _ = fmt.Fprintf(w, "\n%d error(s) found\n", len(issues))
}
