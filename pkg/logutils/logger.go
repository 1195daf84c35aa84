package logutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/colonyops/crew/internal/core/logging"
)

// Options controls where New sends log output.
type Options struct {
	// Level is one of zerolog's level names (debug, info, warn, error, fatal).
	Level string
	// File receives JSON log lines. Empty disables file output.
	File string
	// Console mirrors log lines to stderr in human readable form. It is
	// ignored when stderr is not a terminal.
	Console bool
	// ConsoleOut replaces stderr as the console destination. The terminal
	// check still runs against stderr.
	ConsoleOut io.Writer
}

// New builds a logger from opts. The returned closer flushes and closes the
// log file and is always safe to call.
func New(opts Options) (zerolog.Logger, func(), error) {
	closer := func() {}

	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Logger{}, closer, err
	}

	var writers []io.Writer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create logs dir: %w", err)
		}

		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, closer, err
		}
		closer = func() { _ = f.Close() }
		writers = append(writers, f)
	}

	if opts.Console && term.IsTerminal(int(os.Stderr.Fd())) {
		var out io.Writer = os.Stderr
		if opts.ConsoleOut != nil {
			out = opts.ConsoleOut
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	l := zerolog.New(w).
		With().
		Timestamp().
		Logger().
		Level(lvl).
		Hook(logging.ContextHook{})

	return l, closer, nil
}
