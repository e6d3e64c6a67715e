package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"userchat/internal/models"
	"userchat/internal/service/assistant"
)

type echoWorkflow struct {
	mu       sync.Mutex
	calls    int
	active   atomic.Int32
	maxSeen  atomic.Int32
	started  chan struct{}
	release  chan struct{}
	err      error
	lastConf map[string]any
}

func (e *echoWorkflow) Invoke(ctx context.Context, state *models.State, configurable map[string]any) (*models.Delta, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		prev := e.maxSeen.Load()
		if n <= prev || e.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}
	e.mu.Lock()
	e.calls++
	e.lastConf = configurable
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	msgs := append(state.Clone().Messages,
		models.UserMessage(state.CurrentMessage),
		models.AssistantMessage("echo: "+state.CurrentMessage),
	)
	return &models.Delta{Messages: msgs}, nil
}

func newTestManager(t *testing.T, wf Invoker, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(wf, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestSessionStateCacheOperations(t *testing.T) {
	state := newSessionState()
	if _, ok := state.getHistory("a"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	history := []models.Message{models.UserMessage("hi")}
	state.setHistory("a", history)
	history[0].Content = "mutated"
	got, ok := state.getHistory("a")
	if !ok || len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("history not isolated: %#v", got)
	}

	got[0].Content = "changed"
	again, _ := state.getHistory("a")
	if again[0].Content != "hi" {
		t.Fatalf("getHistory leaked internal slice")
	}

	state.purge("a")
	if _, ok := state.getHistory("a"); ok {
		t.Fatalf("purge did not clear session")
	}

	state.setHistory("b", history)
	state.reset()
	if len(state.history) != 0 {
		t.Fatalf("reset did not clear caches")
	}
}

func TestManagerTurnAccumulatesHistory(t *testing.T) {
	wf := &echoWorkflow{}
	m := newTestManager(t, wf)

	for i, text := range []string{"one", "two", "three"} {
		res, err := m.Turn(TurnRequest{SessionID: "s1", Content: text, Configurable: map[string]any{"model_name": "x"}})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if len(res.Messages) != 2*(i+1) {
			t.Fatalf("turn %d: want %d messages, got %d", i, 2*(i+1), len(res.Messages))
		}
		if res.Reply.Role != models.RoleAssistant || res.Reply.Content != "echo: "+text {
			t.Fatalf("unexpected reply %#v", res.Reply)
		}
	}
	if wf.lastConf["model_name"] != "x" {
		t.Fatalf("configurable not forwarded: %#v", wf.lastConf)
	}

	history, ok := m.History("s1")
	if !ok || len(history) != 6 {
		t.Fatalf("history mismatch: %#v", history)
	}
	if _, ok := m.History("other"); ok {
		t.Fatalf("unexpected history for unknown session")
	}
}

func TestManagerSessionsAreIndependent(t *testing.T) {
	m := newTestManager(t, &echoWorkflow{})

	if _, err := m.Turn(TurnRequest{SessionID: "a", Content: "hello"}); err != nil {
		t.Fatalf("turn a: %v", err)
	}
	res, err := m.Turn(TurnRequest{SessionID: "b", Content: "hi"})
	if err != nil {
		t.Fatalf("turn b: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("session b saw foreign history: %#v", res.Messages)
	}
}

func TestManagerSerializesTurnsPerSession(t *testing.T) {
	wf := &echoWorkflow{}
	m := newTestManager(t, wf, WithQueueSize(32))

	const turns = 20
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Turn(TurnRequest{SessionID: "shared", Content: fmt.Sprintf("msg-%d", i)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("turn failed: %v", err)
	}

	if got := wf.maxSeen.Load(); got != 1 {
		t.Fatalf("turns overlapped: max concurrency %d", got)
	}
	history, _ := m.History("shared")
	if len(history) != 2*turns {
		t.Fatalf("lost updates: want %d messages, got %d", 2*turns, len(history))
	}
}

func TestManagerQueueFull(t *testing.T) {
	wf := &echoWorkflow{started: make(chan struct{}, 4), release: make(chan struct{})}
	m := newTestManager(t, wf, WithQueueSize(1))

	results := make(chan error, 2)
	go func() {
		_, err := m.Turn(TurnRequest{SessionID: "s", Content: "first"})
		results <- err
	}()
	<-wf.started

	go func() {
		_, err := m.Turn(TurnRequest{SessionID: "s", Content: "second"})
		results <- err
	}()
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		w := m.workers["s"]
		return w != nil && len(w.taskCh) == 1
	})

	if _, err := m.Turn(TurnRequest{SessionID: "s", Content: "third"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(wf.release)
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("queued turn failed: %v", err)
		}
	}
}

func TestManagerWorkflowErrorKeepsHistory(t *testing.T) {
	wf := &echoWorkflow{}
	m := newTestManager(t, wf)

	if _, err := m.Turn(TurnRequest{SessionID: "s", Content: "ok"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	boom := errors.New("provider down")
	wf.mu.Lock()
	wf.err = boom
	wf.mu.Unlock()

	if _, err := m.Turn(TurnRequest{SessionID: "s", Content: "fails"}); !errors.Is(err, boom) {
		t.Fatalf("expected workflow error, got %v", err)
	}
	history, _ := m.History("s")
	if len(history) != 2 {
		t.Fatalf("failed turn altered history: %#v", history)
	}
}

func TestManagerTurnHonorsContext(t *testing.T) {
	wf := &echoWorkflow{started: make(chan struct{}, 1), release: make(chan struct{})}
	m := newTestManager(t, wf)
	defer close(wf.release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Turn(TurnRequest{Context: ctx, SessionID: "s", Content: "slow"})
		done <- err
	}()
	<-wf.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestManagerPurgeAndStop(t *testing.T) {
	m := newTestManager(t, &echoWorkflow{})

	if _, err := m.Turn(TurnRequest{SessionID: "s", Content: "hello"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := m.Purge(context.Background(), "s"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok := m.History("s"); ok {
		t.Fatalf("purge did not clear history")
	}
	res, err := m.Turn(TurnRequest{SessionID: "s", Content: "again"})
	if err != nil {
		t.Fatalf("turn after purge: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("purged session kept messages: %#v", res.Messages)
	}

	m.Stop()
	if _, err := m.Turn(TurnRequest{SessionID: "s", Content: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := m.Purge(context.Background(), "s"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped on purge, got %v", err)
	}
	m.Stop()
}

func TestManagerStopFailsQueuedTurns(t *testing.T) {
	wf := &echoWorkflow{started: make(chan struct{}, 4), release: make(chan struct{})}
	m := newTestManager(t, wf, WithQueueSize(4))

	first := make(chan error, 1)
	go func() {
		_, err := m.Turn(TurnRequest{SessionID: "s", Content: "in flight"})
		first <- err
	}()
	<-wf.started

	queued := make(chan error, 2)
	for _, text := range []string{"queued-1", "queued-2"} {
		go func(text string) {
			_, err := m.Turn(TurnRequest{SessionID: "s", Content: text})
			queued <- err
		}(text)
	}
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		w := m.workers["s"]
		return w != nil && len(w.taskCh) == 2
	})

	m.Stop()
	close(wf.release)

	if err := <-first; err != nil {
		t.Fatalf("in-flight turn failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-queued; !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped for queued turn, got %v", err)
		}
	}
	wf.mu.Lock()
	calls := wf.calls
	wf.mu.Unlock()
	if calls != 1 {
		t.Fatalf("queued turns ran after Stop: %d workflow calls", calls)
	}
}

func TestManagerRequiresSessionID(t *testing.T) {
	m := newTestManager(t, &echoWorkflow{})
	if _, err := m.Turn(TurnRequest{Content: "x"}); !errors.Is(err, ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for nil workflow")
	}
}

func TestManagerIdleWorkerRetires(t *testing.T) {
	m := newTestManager(t, &echoWorkflow{}, WithIdleTimeout(20*time.Millisecond))

	if _, err := m.Turn(TurnRequest{SessionID: "s", Content: "hello"}); err != nil {
		t.Fatalf("turn: %v", err)
	}
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.workers) == 0
	})

	res, err := m.Turn(TurnRequest{SessionID: "s", Content: "back"})
	if err != nil {
		t.Fatalf("turn after retire: %v", err)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("history lost across worker restart: %#v", res.Messages)
	}
}

func TestManagerRunsCompiledWorkflow(t *testing.T) {
	wf, err := assistant.NewWorkflow(context.Background(), func(ctx context.Context, state *models.State) (*models.Delta, error) {
		cfg := assistant.FromConfigurable(assistant.ConfigurableFromContext(ctx))
		msgs := append(state.Clone().Messages,
			models.UserMessage(state.CurrentMessage),
			models.AssistantMessage(cfg.ModelName),
		)
		return &models.Delta{Messages: msgs}, nil
	})
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	m := newTestManager(t, wf)

	res, err := m.Turn(TurnRequest{SessionID: "s", Content: "which model?", Configurable: map[string]any{"model_name": "gpt-4o"}})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Reply.Content != "gpt-4o" {
		t.Fatalf("configurable not applied: %#v", res.Reply)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
