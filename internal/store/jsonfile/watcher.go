package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/pkg/iojson"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 200 * time.Millisecond

// TaskFile is the object form of a tasks file. A bare array of tasks is
// accepted too.
type TaskFile struct {
	Tasks []task.Task `json:"tasks"`
}

// LoadTaskFile reads tasks from a JSON or YAML file.
func LoadTaskFile(path string) ([]task.Task, error) {
	var raw json.RawMessage
	if err := iojson.ReadFile(path, &raw); err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var tasks []task.Task
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, fmt.Errorf("decode tasks: %w", err)
		}
		return tasks, nil
	}

	var file TaskFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return file.Tasks, nil
}

// TaskFileWatcher reloads a tasks file whenever it changes on disk. The
// parent directory is watched so editors that replace the file on save are
// still seen.
type TaskFileWatcher struct {
	path        string
	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	log         zerolog.Logger
}

// NewTaskFileWatcher starts watching path. The file does not need to exist
// yet, but its directory does.
func NewTaskFileWatcher(path string, log zerolog.Logger) (*TaskFileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &TaskFileWatcher{
		path:        abs,
		watcher:     watcher,
		debounceDur: defaultDebounce,
		log:         log,
	}, nil
}

// Path returns the watched file.
func (w *TaskFileWatcher) Path() string {
	return w.path
}

// Run calls onChange with the parsed tasks after each burst of writes
// settles. Parse failures are logged and skipped so a half-saved file does
// not stop the watcher. Run returns when ctx is done and closes the watcher.
func (w *TaskFileWatcher) Run(ctx context.Context, onChange func(context.Context, []task.Task)) error {
	defer func() { _ = w.watcher.Close() }()

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path || event.Has(fsnotify.Remove) || event.Has(fsnotify.Chmod) {
				continue
			}

			w.log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("tasks file event")

			if debounce == nil {
				debounce = time.NewTimer(w.debounceDur)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounceDur)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			tasks, err := LoadTaskFile(w.path)
			if err != nil {
				if !os.IsNotExist(err) {
					w.log.Warn().Err(err).Str("path", w.path).Msg("failed to load tasks file")
				}
				continue
			}
			onChange(ctx, tasks)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}
