// Package snapshot persists the schedule store across restarts as a
// versioned JSON file. Raw allow-patterns are stored, never the compiled
// form, so reloaded tasks pick up matcher fixes.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TaskClaw/TaskClaw/internal/task"
)

// Version is the current snapshot schema version.
const Version = 1

// ErrMalformed indicates a snapshot that exists but fails schema
// validation. Load never silently degrades this to an empty store; the
// caller decides whether to start fresh.
var ErrMalformed = errors.New("snapshot malformed")

type file struct {
	Version int         `json:"version"`
	SavedAt time.Time   `json:"savedAt"`
	Tasks   []task.Task `json:"tasks"`
}

// Save writes the tasks to path atomically: the snapshot is written to a
// temp file in the same directory and renamed over the previous one, so a
// crash mid-write never corrupts an existing snapshot.
func Save(path string, tasks []task.Task) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	data, err := json.MarshalIndent(file{Version: Version, SavedAt: time.Now(), Tasks: tasks}, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: replace: %w", err)
	}
	return nil
}

// Load reads tasks from path. A missing file is not an error and yields a
// nil slice; a present-but-invalid file returns ErrMalformed.
func Load(path string) ([]task.Task, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, f.Version)
	}
	if err := validate(f.Tasks); err != nil {
		return nil, err
	}
	return f.Tasks, nil
}

func validate(tasks []task.Task) error {
	seen := make(map[int64]bool, len(tasks))
	for i, t := range tasks {
		if t.ID <= 0 {
			return fmt.Errorf("%w: task %d: bad id %d", ErrMalformed, i, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate task id %d", ErrMalformed, t.ID)
		}
		seen[t.ID] = true
		if strings.TrimSpace(t.Prompt) == "" {
			return fmt.Errorf("%w: task %d: empty prompt", ErrMalformed, t.ID)
		}
		switch t.Schedule.Kind {
		case task.KindOnce:
			if t.Schedule.FireAt.IsZero() {
				return fmt.Errorf("%w: task %d: missing fire time", ErrMalformed, t.ID)
			}
		case task.KindEvery:
			if t.Schedule.Interval <= 0 {
				return fmt.Errorf("%w: task %d: nonpositive interval", ErrMalformed, t.ID)
			}
			if t.Schedule.NextFireAt.IsZero() {
				return fmt.Errorf("%w: task %d: missing next fire time", ErrMalformed, t.ID)
			}
		default:
			return fmt.Errorf("%w: task %d: unknown schedule kind %q", ErrMalformed, t.ID, t.Schedule.Kind)
		}
		switch t.Status {
		case task.StatusPending, task.StatusRunning, task.StatusCompleted, task.StatusFailed:
		default:
			return fmt.Errorf("%w: task %d: unknown status %q", ErrMalformed, t.ID, t.Status)
		}
	}
	return nil
}
