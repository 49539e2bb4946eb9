// Package task provides the task model and the schedule store.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status values for a task's dispatch lifecycle.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Schedule kinds.
const (
	KindOnce  = "once"  // Fire once at a wall-clock time.
	KindEvery = "every" // Fire every Interval seconds.
)

var (
	// ErrInvalidSchedule indicates an unparseable clock time or interval.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskRunning indicates an operation rejected because the task has
	// a dispatch in flight.
	ErrTaskRunning = errors.New("task is currently running")
)

// MinInterval is the smallest accepted periodic interval.
const MinInterval = 2 * time.Second

// Schedule describes when a task fires.
type Schedule struct {
	Kind       string        `json:"kind"`
	FireAt     time.Time     `json:"fireAt,omitempty"`     // once: absolute fire time
	Interval   time.Duration `json:"interval,omitempty"`   // every: period between fires
	NextFireAt time.Time     `json:"nextFireAt,omitempty"` // every: next due time
}

// Due returns the next time the schedule fires.
func (s Schedule) Due() time.Time {
	if s.Kind == KindOnce {
		return s.FireAt
	}
	return s.NextFireAt
}

// Task is one scheduled unit of agent work. Fields other than Schedule
// progress (NextFireAt), Status and LastOutcome are immutable after creation.
type Task struct {
	ID            int64    `json:"id"`
	Schedule      Schedule `json:"schedule"`
	Prompt        string   `json:"prompt"`
	WorkingDir    string   `json:"workingDir,omitempty"`
	Model         string   `json:"model,omitempty"`
	Integrations  []string `json:"integrations,omitempty"`
	AllowPatterns []string `json:"allowPatterns,omitempty"`
	Status        string   `json:"status"`
	LastOutcome   string   `json:"lastOutcome,omitempty"`
}

// NewOnceTask creates a one-shot task firing at the given absolute time.
func NewOnceTask(fireAt time.Time, prompt string) (*Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidSchedule)
	}
	return &Task{
		Schedule: Schedule{Kind: KindOnce, FireAt: fireAt},
		Prompt:   prompt,
		Status:   StatusPending,
	}, nil
}

// NewEveryTask creates a periodic task. The first fire is now+interval.
func NewEveryTask(interval time.Duration, prompt string, now time.Time) (*Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidSchedule)
	}
	if interval < MinInterval {
		return nil, fmt.Errorf("%w: interval must be at least %s", ErrInvalidSchedule, MinInterval)
	}
	return &Task{
		Schedule: Schedule{Kind: KindEvery, Interval: interval, NextFireAt: now.Add(interval)},
		Prompt:   prompt,
		Status:   StatusPending,
	}, nil
}

// ParseClockTime parses "H:MMAM"/"HH:MMPM" and resolves it to the next
// future occurrence of that clock time: today if still ahead, otherwise
// tomorrow.
func ParseClockTime(s string, now time.Time) (time.Time, error) {
	parsed, err := time.Parse("3:04PM", strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want HH:MMAM/PM, e.g. 2:30PM)", ErrInvalidSchedule, s)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

// Summary renders the one-line listing form used by the list command.
func (t *Task) Summary() string {
	preview := t.Prompt
	if len(preview) > 40 {
		preview = preview[:40] + "..."
	}

	var when string
	if t.Schedule.Kind == KindEvery {
		when = fmt.Sprintf("every %ds", int(t.Schedule.Interval/time.Second))
	} else {
		when = "at " + t.Schedule.FireAt.Format("3:04PM")
	}

	var extras []string
	if len(t.Integrations) > 0 {
		extras = append(extras, "mcps=["+strings.Join(t.Integrations, ", ")+"]")
	}
	if t.WorkingDir != "" {
		extras = append(extras, "cwd="+t.WorkingDir)
	}
	if len(t.AllowPatterns) > 0 {
		extras = append(extras, "allow=["+strings.Join(t.AllowPatterns, ", ")+"]")
	}
	suffix := ""
	if len(extras) > 0 {
		suffix = " (" + strings.Join(extras, ", ") + ")"
	}

	return fmt.Sprintf("%q %s%s [%s]", preview, when, suffix, t.Status)
}
