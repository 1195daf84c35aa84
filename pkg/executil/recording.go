package executil

import (
	"context"
	"io"
	"sync"
)

// RecordingRunner captures commands for testing. Results and Errors are keyed
// by command name.
type RecordingRunner struct {
	mu       sync.Mutex
	Commands []Command

	Results map[string]Result
	Errors  map[string]error
	// Output is written to stdout for every command.
	Output string
	// Block, when set, holds Run until it is closed or ctx ends.
	Block chan struct{}
}

// Run records cmd and returns the configured result.
func (r *RecordingRunner) Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (Result, error) {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	res := r.Results[cmd.Name]
	err := r.Errors[cmd.Name]
	block := r.Block
	r.mu.Unlock()

	if r.Output != "" && stdout != nil {
		_, _ = io.WriteString(stdout, r.Output)
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{ExitCode: -1}, ctx.Err()
		}
	}
	return res, err
}

// Recorded returns a copy of the commands run so far.
func (r *RecordingRunner) Recorded() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.Commands...)
}
