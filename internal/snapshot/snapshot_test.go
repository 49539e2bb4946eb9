package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TaskClaw/TaskClaw/internal/task"
)

func sampleTasks(t *testing.T) []task.Task {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	once, err := task.NewOnceTask(now.Add(time.Hour), "send the report")
	if err != nil {
		t.Fatal(err)
	}
	once.ID = 1
	once.WorkingDir = "/work/reports"
	once.Integrations = []string{"mail"}
	once.AllowPatterns = []string{"mail:send_*", "Bash"}

	every, err := task.NewEveryTask(2*time.Second, "watch the queue", now)
	if err != nil {
		t.Fatal(err)
	}
	every.ID = 2
	every.Status = task.StatusFailed
	every.LastOutcome = "integration not found: mail"

	return []task.Task{*once, *every}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	want := sampleTasks(t)

	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.ID != w.ID || g.Prompt != w.Prompt || g.Status != w.Status ||
			g.WorkingDir != w.WorkingDir || g.LastOutcome != w.LastOutcome {
			t.Errorf("task %d: got %+v, want %+v", i, g, w)
		}
		if g.Schedule.Kind != w.Schedule.Kind ||
			!g.Schedule.FireAt.Equal(w.Schedule.FireAt) ||
			g.Schedule.Interval != w.Schedule.Interval ||
			!g.Schedule.NextFireAt.Equal(w.Schedule.NextFireAt) {
			t.Errorf("task %d schedule: got %+v, want %+v", i, g.Schedule, w.Schedule)
		}
		if len(g.AllowPatterns) != len(w.AllowPatterns) {
			t.Errorf("task %d allow patterns: got %v, want %v", i, g.AllowPatterns, w.AllowPatterns)
		}
	}
}

func TestRoundTripEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := Save(path, nil); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestLoadCorruptSnapshotIsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := Save(path, sampleTasks(t)); err != nil {
		t.Fatal(err)
	}
	// Truncate mid-file, as a crash during some other writer would.
	if err := os.WriteFile(path, []byte(`{"version": 1, "tasks": [{"id":`), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "tasks": []}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"duplicate id":  `{"version":1,"tasks":[{"id":1,"prompt":"a","status":"pending","schedule":{"kind":"once","fireAt":"2026-03-10T13:00:00Z"}},{"id":1,"prompt":"b","status":"pending","schedule":{"kind":"once","fireAt":"2026-03-10T13:00:00Z"}}]}`,
		"empty prompt":  `{"version":1,"tasks":[{"id":1,"prompt":" ","status":"pending","schedule":{"kind":"once","fireAt":"2026-03-10T13:00:00Z"}}]}`,
		"unknown kind":  `{"version":1,"tasks":[{"id":1,"prompt":"a","status":"pending","schedule":{"kind":"cron"}}]}`,
		"bad interval":  `{"version":1,"tasks":[{"id":1,"prompt":"a","status":"pending","schedule":{"kind":"every","interval":0,"nextFireAt":"2026-03-10T13:00:00Z"}}]}`,
		"bad status":    `{"version":1,"tasks":[{"id":1,"prompt":"a","status":"paused","schedule":{"kind":"once","fireAt":"2026-03-10T13:00:00Z"}}]}`,
		"nonpositive i": `{"version":1,"tasks":[{"id":0,"prompt":"a","status":"pending","schedule":{"kind":"once","fireAt":"2026-03-10T13:00:00Z"}}]}`,
	}
	for name, payload := range cases {
		path := filepath.Join(t.TempDir(), "schedule.json")
		if err := os.WriteFile(path, []byte(payload), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: error = %v, want ErrMalformed", name, err)
		}
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")

	if err := Save(path, sampleTasks(t)); err != nil {
		t.Fatal(err)
	}
	if err := Save(path, sampleTasks(t)[:1]); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}

	// No temp files may survive a successful save.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files in snapshot dir: %v", entries)
	}
}
