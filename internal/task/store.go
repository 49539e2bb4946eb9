package task

import (
	"sort"
	"sync"
	"time"
)

// Store is the mutable schedule: the single synchronization boundary
// between the command front end and the scheduler loop. The lock is held
// only for the duration of one operation, never across a dispatch.
type Store struct {
	mu     sync.Mutex
	tasks  map[int64]*Task
	nextID int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tasks: make(map[int64]*Task), nextID: 1}
}

// Add inserts a task and assigns it the next id. Ids are never reused
// within a session.
func (s *Store) Add(t *Task) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	s.tasks[t.ID] = t
	return t.ID
}

// Remove deletes a task by id. Removing a running task only removes it
// from future consideration; an in-flight dispatch is not aborted and its
// late outcome is discarded.
func (s *Store) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return copyTask(t), nil
}

// List returns a snapshot of all tasks ordered by id, safe to iterate
// without holding the store lock.
func (s *Store) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// DueBefore returns copies of all pending tasks due at or before now,
// ordered by (due time, id). The ordering makes dispatch deterministic
// when several tasks share a due time.
func (s *Store) DueBefore(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Task
	for _, t := range s.tasks {
		if t.Status == StatusPending && !t.Schedule.Due().After(now) {
			due = append(due, copyTask(t))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		di, dj := due[i].Schedule.Due(), due[j].Schedule.Due()
		if di.Equal(dj) {
			return due[i].ID < due[j].ID
		}
		return di.Before(dj)
	})
	return due
}

// MarkRunning transitions a pending task to running. This is the dispatch
// guard: it returns false if the task is gone or not pending, so a task is
// never dispatched twice concurrently.
func (s *Store) MarkRunning(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != StatusPending {
		return false
	}
	t.Status = StatusRunning
	return true
}

// Settle records the terminal outcome of a one-shot task. Settling an id
// that has been removed mid-flight is a no-op.
func (s *Store) Settle(id int64, status, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Status = status
	t.LastOutcome = outcome
}

// Reschedule returns a periodic task to pending and advances its next fire
// time by exactly one interval, regardless of the dispatch outcome.
// Periodic work is not abandoned on a single failure.
func (s *Store) Reschedule(id int64, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Schedule.Kind != KindEvery {
		return
	}
	t.Status = StatusPending
	t.LastOutcome = outcome
	t.Schedule.NextFireAt = t.Schedule.NextFireAt.Add(t.Schedule.Interval)
}

// MakeDue rewinds a task's due time to fire on the next tick. Used by the
// run command to trigger a task immediately. A task with a dispatch in
// flight is rejected; rewinding it would race a second dispatch alongside
// the first.
func (s *Store) MakeDue(id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status == StatusRunning {
		return ErrTaskRunning
	}
	if t.Schedule.Kind == KindEvery {
		t.Schedule.NextFireAt = now
	} else {
		t.Schedule.FireAt = now
		t.Status = StatusPending
	}
	return nil
}

// Restore replaces the store contents with tasks from a snapshot,
// preserving their ids. The id counter resumes above the highest restored
// id so addressing stays stable across a save/load cycle.
func (s *Store) Restore(tasks []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[int64]*Task, len(tasks))
	s.nextID = 1
	for i := range tasks {
		t := copyTask(&tasks[i])
		// A task saved mid-dispatch restarts as pending.
		if t.Status == StatusRunning {
			t.Status = StatusPending
		}
		s.tasks[t.ID] = &t
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
}

func copyTask(t *Task) Task {
	c := *t
	c.Integrations = append([]string(nil), t.Integrations...)
	c.AllowPatterns = append([]string(nil), t.AllowPatterns...)
	return c
}
