// Package executil runs worker commands and keeps the tail of their output.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// maxLineLen caps the retained last line so a runaway line without a newline
// cannot grow without bound.
const maxLineLen = 500

// Command describes a process to start.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result describes a finished process.
type Result struct {
	ExitCode int
	// LastLine is the last non-empty line the process wrote. A failed
	// process reports its last stderr line when it wrote one; otherwise
	// stdout comes first.
	LastLine string
}

// Runner starts commands. Run returns an error wrapping *exec.ExitError when
// the process exits non-zero; the Result is filled in either way.
type Runner interface {
	Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (Result, error)
}

// RealRunner runs actual processes.
type RealRunner struct{}

// Run starts cmd and streams its output to stdout and stderr while tracking
// the last line.
func (RealRunner) Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (Result, error) {
	if cmd.Name == "" {
		return Result{ExitCode: -1}, errors.New("no command given")
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	outTail, errTail := &tailWriter{}, &tailWriter{}
	c.Stdout = io.MultiWriter(orDiscard(stdout), outTail)
	c.Stderr = io.MultiWriter(orDiscard(stderr), errTail)

	err := c.Run()
	res := Result{LastLine: firstNonEmpty(outTail.Last(), errTail.Last())}
	if err != nil {
		res.LastLine = firstNonEmpty(errTail.Last(), outTail.Last())

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, fmt.Errorf("exec %s: %w", cmd.Name, err)
	}
	return res, nil
}

func firstNonEmpty(lines ...string) string {
	for _, l := range lines {
		if l != "" {
			return l
		}
	}
	return ""
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// tailWriter remembers the last complete non-empty line of one stream, or
// the trailing partial line if the output does not end in a newline.
type tailWriter struct {
	mu      sync.Mutex
	last    string
	partial bytes.Buffer
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			if line := strings.TrimSpace(w.partial.String()); line != "" {
				w.last = line
			}
			w.partial.Reset()
			continue
		}
		if w.partial.Len() < maxLineLen {
			w.partial.WriteByte(b)
		}
	}
	return len(p), nil
}

// Last returns the most recent non-empty line.
func (w *tailWriter) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if line := strings.TrimSpace(w.partial.String()); line != "" {
		return line
	}
	return w.last
}
