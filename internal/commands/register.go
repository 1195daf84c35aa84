package commands

import "github.com/urfave/cli/v3"

// RegisterAll adds every crew subcommand to app.
func RegisterAll(app *cli.Command, flags *Flags) *cli.Command {
	app = NewServeCmd(flags).Register(app)
	app = NewTaskCmd(flags).Register(app)
	app = NewWorkerCmd(flags).Register(app)
	app = NewApproveCmd(flags).Register(app)
	app = NewMsgCmd(flags).Register(app)
	app = NewStatusCmd(flags).Register(app)
	app = NewWatchCmd(flags).Register(app)
	app = NewBotCmd(flags).Register(app)
	app = NewMcpCmd(flags).Register(app)
	app = NewConfigValidateCmd(flags).Register(app)
	return app
}
