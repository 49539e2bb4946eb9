package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TaskClaw/TaskClaw/internal/dispatch"
	"github.com/TaskClaw/TaskClaw/internal/permission"
	"github.com/TaskClaw/TaskClaw/internal/registry"
	"github.com/TaskClaw/TaskClaw/internal/task"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubResolver struct {
	servers map[string]registry.ServerConfig
	err     error
}

func (s stubResolver) Resolve(names []string) (map[string]registry.ServerConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]registry.ServerConfig, len(names))
	for _, n := range names {
		sc, ok := s.servers[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", registry.ErrIntegrationNotFound, n)
		}
		out[n] = sc
	}
	return out, nil
}

type stubDispatcher struct {
	mu      sync.Mutex
	taskIDs []int64
	gate    chan struct{} // when set, Execute blocks until the gate closes
	fn      func(req dispatch.Request) (dispatch.Outcome, error)
}

func (d *stubDispatcher) Execute(ctx context.Context, req dispatch.Request) (dispatch.Outcome, error) {
	d.mu.Lock()
	d.taskIDs = append(d.taskIDs, taskIDFromPrompt(req.Prompt))
	d.mu.Unlock()
	if d.gate != nil {
		<-d.gate
	}
	if d.fn != nil {
		return d.fn(req)
	}
	return dispatch.Outcome{OK: true, Detail: "done"}, nil
}

func (d *stubDispatcher) calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.taskIDs...)
}

// Prompts in these tests are "task <id>" so the stub can report dispatch
// order without reaching into the store.
func taskIDFromPrompt(p string) int64 {
	var id int64
	fmt.Sscanf(p, "task %d", &id)
	return id
}

func newTestLoop(t *testing.T, store *task.Store, r registry.Resolver, d dispatch.Dispatcher, cfg Config) *Loop {
	t.Helper()
	l := New(cfg, store, r, d, nil)
	l.now = func() time.Time { return base }
	return l
}

func addOnce(t *testing.T, store *task.Store, fireAt time.Time, prompt string) int64 {
	t.Helper()
	tk, err := task.NewOnceTask(fireAt, prompt)
	if err != nil {
		t.Fatal(err)
	}
	return store.Add(tk)
}

func TestOneTimeTaskDispatchedAtMostOnce(t *testing.T) {
	store := task.NewStore()
	// No allow-patterns: every authorization request must be denied and
	// the dispatch must fail rather than wait for confirmation.
	tk, err := task.NewOnceTask(base.Add(-time.Second), "task 0")
	if err != nil {
		t.Fatal(err)
	}
	tk.Integrations = []string{"mail"}
	id := store.Add(tk)

	d := &stubDispatcher{fn: func(req dispatch.Request) (dispatch.Outcome, error) {
		if req.Authorize(permission.Request{Integration: "mail", Tool: "send"}) {
			t.Error("no patterns must authorize nothing")
		}
		if req.Authorize(permission.Request{Tool: "Bash"}) {
			t.Error("no patterns must authorize no builtins")
		}
		return dispatch.Outcome{OK: false, Detail: "authorization required: mail/send"}, nil
	}}
	r := stubResolver{servers: map[string]registry.ServerConfig{"mail": {Command: "mail-server"}}}
	l := newTestLoop(t, store, r, d, DefaultConfig())

	l.tick(context.Background())
	l.wg.Wait()

	got, err := store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.LastOutcome, "authorization required") {
		t.Errorf("outcome = %q", got.LastOutcome)
	}

	// Further ticks must never re-dispatch a settled one-shot task.
	l.tick(context.Background())
	l.tick(context.Background())
	l.wg.Wait()
	if n := len(d.calls()); n != 1 {
		t.Errorf("dispatch count = %d, want 1", n)
	}
}

func TestPeriodicTaskCadenceSurvivesOutcomes(t *testing.T) {
	store := task.NewStore()
	tk, err := task.NewEveryTask(2*time.Second, "task 0", base)
	if err != nil {
		t.Fatal(err)
	}
	tk.Integrations = []string{"mail"}
	tk.AllowPatterns = []string{"*"}
	id := store.Add(tk)
	firstDue := tk.Schedule.NextFireAt

	var runs int
	d := &stubDispatcher{fn: func(req dispatch.Request) (dispatch.Outcome, error) {
		if !req.Authorize(permission.Request{Integration: "mail", Tool: "send"}) {
			t.Error("* must authorize any integration tool")
		}
		runs++
		if runs == 2 {
			return dispatch.Outcome{OK: false, Detail: "transient failure"}, nil
		}
		return dispatch.Outcome{OK: true, Detail: "sent"}, nil
	}}
	r := stubResolver{servers: map[string]registry.ServerConfig{"mail": {Command: "mail-server"}}}
	l := newTestLoop(t, store, r, d, DefaultConfig())

	now := base
	for i := 1; i <= 3; i++ {
		now = now.Add(2 * time.Second)
		l.now = func() time.Time { return now }
		l.tick(context.Background())
		l.wg.Wait()

		got, err := store.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != task.StatusPending {
			t.Fatalf("tick %d: status = %q, want pending", i, got.Status)
		}
		want := firstDue.Add(time.Duration(i) * 2 * time.Second)
		if !got.Schedule.NextFireAt.Equal(want) {
			t.Fatalf("tick %d: NextFireAt = %v, want %v", i, got.Schedule.NextFireAt, want)
		}
	}
	if n := len(d.calls()); n != 3 {
		t.Errorf("dispatch count = %d, want 3", n)
	}
}

func TestEqualDueTimesDispatchInIDOrder(t *testing.T) {
	store := task.NewStore()
	due := base.Add(-time.Minute)
	idA := addOnce(t, store, due, "task 1")
	idB := addOnce(t, store, due, "task 2")

	// Cap of 1 serializes the two dispatches across ticks; launch order
	// within a tick is (due, id) ascending, so A always goes first.
	gate := make(chan struct{})
	d := &stubDispatcher{gate: gate}
	l := newTestLoop(t, store, stubResolver{}, d, Config{PollInterval: time.Second, MaxConcurrent: 1})

	l.tick(context.Background())
	for len(d.calls()) == 0 {
		time.Sleep(time.Millisecond)
	}
	if calls := d.calls(); len(calls) != 1 || calls[0] != idA {
		t.Fatalf("first tick dispatched %v, want [%d]", calls, idA)
	}

	close(gate)
	l.wg.Wait()
	l.tick(context.Background())
	l.wg.Wait()

	if calls := d.calls(); len(calls) != 2 || calls[1] != idB {
		t.Fatalf("calls = %v, want [%d %d]", calls, idA, idB)
	}
}

func TestRemovedTaskOutcomeDiscarded(t *testing.T) {
	store := task.NewStore()
	id := addOnce(t, store, base.Add(-time.Second), "task 1")

	gate := make(chan struct{})
	d := &stubDispatcher{gate: gate}
	l := newTestLoop(t, store, stubResolver{}, d, DefaultConfig())

	l.tick(context.Background())
	for len(d.calls()) == 0 {
		time.Sleep(time.Millisecond)
	}

	// Remove while the dispatch is in flight; the late outcome must be
	// dropped on the floor.
	if err := store.Remove(id); err != nil {
		t.Fatal(err)
	}
	close(gate)
	l.wg.Wait()

	if store.Len() != 0 {
		t.Error("removed task came back after its dispatch settled")
	}
}

func TestIntegrationResolutionFailureIsCaptured(t *testing.T) {
	store := task.NewStore()
	tk, err := task.NewOnceTask(base.Add(-time.Second), "task 1")
	if err != nil {
		t.Fatal(err)
	}
	tk.Integrations = []string{"ghost"}
	id := store.Add(tk)

	d := &stubDispatcher{}
	l := newTestLoop(t, store, stubResolver{}, d, DefaultConfig())

	l.tick(context.Background())
	l.wg.Wait()

	got, err := store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.LastOutcome, "integration not found") {
		t.Errorf("outcome = %q", got.LastOutcome)
	}
	if len(d.calls()) != 0 {
		t.Error("dispatcher must not run when integrations are unresolved")
	}
}

func TestOneFailingTaskDoesNotHaltOthers(t *testing.T) {
	store := task.NewStore()
	bad, err := task.NewOnceTask(base.Add(-2*time.Second), "task 1")
	if err != nil {
		t.Fatal(err)
	}
	bad.Integrations = []string{"ghost"}
	idBad := store.Add(bad)
	idGood := addOnce(t, store, base.Add(-time.Second), "task 2")

	d := &stubDispatcher{}
	l := newTestLoop(t, store, stubResolver{}, d, DefaultConfig())

	l.tick(context.Background())
	l.wg.Wait()

	gotBad, _ := store.Get(idBad)
	gotGood, _ := store.Get(idGood)
	if gotBad.Status != task.StatusFailed {
		t.Errorf("bad task status = %q, want failed", gotBad.Status)
	}
	if gotGood.Status != task.StatusCompleted {
		t.Errorf("good task status = %q, want completed", gotGood.Status)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := task.NewStore()
	l := newTestLoop(t, store, stubResolver{}, &stubDispatcher{}, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if !l.Wait(time.Second) {
		t.Error("Wait should succeed with nothing in flight")
	}
}

func TestWaitTimesOutOnStuckDispatch(t *testing.T) {
	store := task.NewStore()
	addOnce(t, store, base.Add(-time.Second), "task 1")

	gate := make(chan struct{})
	d := &stubDispatcher{gate: gate}
	l := newTestLoop(t, store, stubResolver{}, d, DefaultConfig())

	l.tick(context.Background())
	for len(d.calls()) == 0 {
		time.Sleep(time.Millisecond)
	}

	if l.Wait(20 * time.Millisecond) {
		t.Error("Wait should report an abandoned dispatch")
	}
	close(gate)
	l.wg.Wait()
}
