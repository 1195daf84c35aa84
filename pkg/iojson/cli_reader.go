package iojson

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// FileReader decodes command input from a --file flag or stdin.
type FileReader[T any] struct {
	fileFlagValue string
	stdin         io.Reader
}

// Flag returns the --file flag bound to the reader.
func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to a JSON or YAML file (reads JSON from stdin if not provided)",
		Destination: &fr.fileFlagValue,
	}
}

// Path returns the --file value.
func (fr *FileReader[T]) Path() string {
	return fr.fileFlagValue
}

// Read decodes the input. Stdin is only read when it is not a terminal.
func (fr *FileReader[T]) Read() (T, error) {
	var input T

	if fr.fileFlagValue != "" {
		if err := ReadFile(fr.fileFlagValue, &input); err != nil {
			return input, fmt.Errorf("read %s: %w", fr.fileFlagValue, err)
		}
		return input, nil
	}

	reader := fr.stdin
	if reader == nil {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return input, errors.New("no input provided (stdin is a terminal); use -f flag or pipe JSON input")
		}
		reader = os.Stdin
	}

	err := Decode(reader, FormatJSON, &input)
	return input, err
}
