package timeline

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStartAndFinish(t *testing.T) {
	s := newTestService(t)
	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	runID, err := s.RecordStart(7, "trace-1", "check mail", started)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if runID == 0 {
		t.Fatal("runID = 0")
	}

	runs, err := s.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	r := runs[0]
	if r.TaskID != 7 || r.TraceID != "trace-1" || r.Prompt != "check mail" {
		t.Errorf("run = %+v", r)
	}
	if r.Status != "running" || r.FinishedAt != nil {
		t.Errorf("open run = %+v", r)
	}

	if err := s.RecordFinish(runID, "completed", "sent 3 replies", started.Add(time.Minute)); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}
	runs, err = s.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	r = runs[0]
	if r.Status != "completed" || r.Detail != "sent 3 replies" {
		t.Errorf("closed run = %+v", r)
	}
	if r.FinishedAt == nil {
		t.Error("FinishedAt still nil after RecordFinish")
	}
}

func TestRecentRunsNewestFirstAndLimited(t *testing.T) {
	s := newTestService(t)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		if _, err := s.RecordStart(int64(i), "t", "p", now); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.RecentRuns(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	if runs[0].TaskID != 5 || runs[2].TaskID != 3 {
		t.Errorf("order = %d, %d, %d", runs[0].TaskID, runs[1].TaskID, runs[2].TaskID)
	}
}

func TestNilServiceIsNoOp(t *testing.T) {
	var s *Service
	runID, err := s.RecordStart(1, "t", "p", time.Now())
	if runID != 0 || err != nil {
		t.Errorf("RecordStart on nil = %d, %v", runID, err)
	}
	if err := s.RecordFinish(1, "completed", "", time.Now()); err != nil {
		t.Errorf("RecordFinish on nil = %v", err)
	}
	runs, err := s.RecentRuns(10)
	if runs != nil || err != nil {
		t.Errorf("RecentRuns on nil = %v, %v", runs, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil = %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.db")
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordStart(1, "t", "p", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("runs after reopen = %d, want 1", len(runs))
	}
}
