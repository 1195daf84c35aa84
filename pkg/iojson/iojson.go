// Package iojson reads and writes JSON for command line tools. YAML input is
// accepted wherever a file extension says so and is decoded through the same
// JSON tags.
package iojson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an input encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatOf picks the format from a path's extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Decode reads r in the given format into v. YAML documents are converted to
// JSON first so struct json tags apply to both.
func Decode(r io.Reader, format Format, v any) error {
	if format == FormatJSON {
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
		return nil
	}

	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode YAML: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert YAML: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode YAML: %w", err)
	}
	return nil
}

// ReadFile decodes the file at path, choosing the format by extension.
func ReadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(bytes.NewReader(data), FormatOf(path), v)
}

// WriteWith writes obj as indented JSON to w. Marshal failures are reported
// on ew as a JSON error object.
func WriteWith(w io.Writer, ew io.Writer, obj any) error {
	bits, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		msg, _ := json.Marshal(map[string]string{"message": "failed to encode output", "error": err.Error()})
		_, werr := fmt.Fprintln(ew, string(msg))
		if werr != nil {
			return werr
		}
		return err
	}

	_, err = fmt.Fprintln(w, string(bits))
	return err
}

// Write calls WriteWith with [os.Stdout] and [os.Stderr].
func Write(obj any) error {
	return WriteWith(os.Stdout, os.Stderr, obj)
}
