package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/wckdouglas/rodeo/internal/artifacts"
	"github.com/wckdouglas/rodeo/internal/history"
	"github.com/wckdouglas/rodeo/internal/infrastructure/config"
	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/pipeline"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubKernel is an in-memory kernel.Client for table tests.
type stubKernel struct {
	events        chan types.Event
	execDelay     time.Duration
	completeDelay time.Duration
	killErr       error

	count    int64
	killOnce sync.Once
	mu       sync.Mutex
	codes    []string
	hidden   []bool
	killed   bool
	signals  int
}

func newStubKernel() *stubKernel {
	k := &stubKernel{events: make(chan types.Event, 32)}
	k.events <- types.Event{Kind: types.EventReady}
	return k
}

func (k *stubKernel) emit(ev types.Event) { k.events <- ev }

// crash simulates the subprocess dying on its own.
func (k *stubKernel) crash(code int) {
	k.killOnce.Do(func() {
		k.events <- types.Event{Kind: types.EventClose, ExitCode: code}
		close(k.events)
	})
}

func (k *stubKernel) Execute(ctx context.Context, code string, hidden bool) (types.ExecuteResult, error) {
	k.mu.Lock()
	k.codes = append(k.codes, code)
	k.hidden = append(k.hidden, hidden)
	k.mu.Unlock()
	if k.execDelay > 0 {
		select {
		case <-time.After(k.execDelay):
		case <-ctx.Done():
			return types.ExecuteResult{}, ctx.Err()
		}
	}
	return types.ExecuteResult{Status: "ok", ExecutionCount: atomic.AddInt64(&k.count, 1)}, nil
}

func (k *stubKernel) Complete(ctx context.Context, code string, cursor int) (types.Completion, error) {
	if k.completeDelay > 0 {
		select {
		case <-time.After(k.completeDelay):
		case <-ctx.Done():
			return types.Completion{}, ctx.Err()
		}
	}
	return types.Completion{Matches: []string{"stub"}, CursorEnd: cursor, Status: "ok"}, nil
}

func (k *stubKernel) IsComplete(ctx context.Context, code string) (types.Completeness, error) {
	return types.Completeness{Status: "complete"}, nil
}

func (k *stubKernel) Inspect(ctx context.Context, code string, cursor, detail int) (types.Inspection, error) {
	return types.Inspection{Found: true}, nil
}

func (k *stubKernel) SendInputReply(value string) error { return nil }

func (k *stubKernel) Interrupt() error {
	k.mu.Lock()
	k.signals++
	k.mu.Unlock()
	return nil
}

func (k *stubKernel) Kill(ctx context.Context) error {
	k.mu.Lock()
	k.killed = true
	k.mu.Unlock()
	k.killOnce.Do(func() {
		k.events <- types.Event{Kind: types.EventClose, Signal: "killed"}
		close(k.events)
	})
	return k.killErr
}

func (k *stubKernel) Events() <-chan types.Event { return k.events }
func (k *stubKernel) Language() string           { return "stub" }
func (k *stubKernel) Banner() string             { return "stub kernel" }
func (k *stubKernel) ExecState() string          { return "idle" }
func (k *stubKernel) Pending() int               { return 0 }
func (k *stubKernel) PID() int                   { return 4242 }

func (k *stubKernel) executedCodes() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.codes...)
}

func (k *stubKernel) hiddenFlags() []bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]bool(nil), k.hidden...)
}

func (k *stubKernel) wasKilled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.killed
}

func (k *stubKernel) interrupts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.signals
}

// stubFactory builds stub kernels, optionally blocking construction on
// gate or failing with err.
type stubFactory struct {
	mu            sync.Mutex
	clients       []*stubKernel
	calls         int
	err           error
	gate          chan struct{}
	execDelay     time.Duration
	completeDelay time.Duration
	killErr       error
}

func (f *stubFactory) Launch(ctx context.Context, opts types.LaunchOptions) (kernel.Client, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	k := newStubKernel()
	k.execDelay = f.execDelay
	k.completeDelay = f.completeDelay
	k.killErr = f.killErr
	f.mu.Lock()
	f.clients = append(f.clients, k)
	f.mu.Unlock()
	return k, nil
}

func (f *stubFactory) launchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *stubFactory) last() *stubKernel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func (f *stubFactory) all() []*stubKernel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*stubKernel(nil), f.clients...)
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		CompleteTimeout:  config.Duration(150 * time.Millisecond),
		SubscriberBuffer: 8,
		StatsWindow:      16,
	}
}

func newTestManager(t *testing.T, f kernel.Factory) *Manager {
	t.Helper()
	m := NewManager(testSessionConfig(), f, nil, nil, nil, nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func waitReady(t *testing.T, m *Manager, sid string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := m.GetStatus(sid)
		return err == nil && st.State == types.StateReady
	}, 2*time.Second, 2*time.Millisecond)
}

func recv(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

func recvClosed(t *testing.T, ch <-chan types.Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "expected closed stream, got %+v", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}

func TestCreateValidatesBeforeSpawn(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)

	_, err := m.Create(context.Background(), types.LaunchOptions{})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Equal(t, 0, f.launchCalls(), "invalid options must never reach the launcher")
	assert.Equal(t, 0, m.Len())
}

func TestCreateAndExecute(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	require.NotEmpty(t, sid)

	res, err := m.Execute(ctx, sid, "x = 1")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, int64(1), res.ExecutionCount)
	assert.Equal(t, []string{"x = 1"}, f.last().executedCodes())
}

func TestExecuteEmptyText(t *testing.T) {
	m := newTestManager(t, &stubFactory{})

	_, err := m.Execute(context.Background(), "kern_whatever", "")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestOpsOnUnknownSession(t *testing.T) {
	m := newTestManager(t, &stubFactory{})
	ctx := context.Background()
	const sid = "kern_doesnotexist"

	ops := map[string]func() error{
		"execute":     func() error { _, err := m.Execute(ctx, sid, "1"); return err },
		"hidden":      func() error { _, err := m.ExecuteHidden(ctx, sid, "1"); return err },
		"eval":        func() error { _, err := m.Eval(ctx, sid, "1"); return err },
		"complete":    func() error { _, err := m.GetAutoComplete(ctx, sid, "pr", 2); return err },
		"is_complete": func() error { _, err := m.IsComplete(ctx, sid, "1"); return err },
		"inspect":     func() error { _, err := m.GetInspection(ctx, sid, "x", 1, 0); return err },
		"status":      func() error { _, err := m.GetStatus(sid); return err },
		"interrupt":   func() error { return m.Interrupt(ctx, sid) },
		"input":       func() error { return m.SendInputReply(ctx, sid, "y") },
		"kill":        func() error { return m.Kill(ctx, sid) },
		"subscribe":   func() error { _, err := m.Subscribe(sid); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, op(), errs.ErrNotFound)
		})
	}
}

func TestKillRemovesAndSecondKillNotFound(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	require.NoError(t, m.Kill(ctx, sid))
	assert.Equal(t, 0, m.Len())
	assert.True(t, f.last().wasKilled())

	require.ErrorIs(t, m.Kill(ctx, sid), errs.ErrNotFound)
	_, err = m.Execute(ctx, sid, "1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestKillToleratesFailingKernel(t *testing.T) {
	f := &stubFactory{killErr: errs.Timeoutf("kernel ignored SIGKILL")}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	// Teardown settles and removes the entry even when kill errors.
	require.NoError(t, m.Kill(ctx, sid))
	assert.Equal(t, 0, m.Len())
}

func TestKillBeforeReadyWaits(t *testing.T) {
	gate := make(chan struct{})
	f := &stubFactory{gate: gate}
	m := newTestManager(t, f)

	sid, err := m.Create(context.Background(), types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	killed := make(chan error, 1)
	go func() { killed <- m.Kill(context.Background(), sid) }()

	require.Eventually(t, func() bool {
		st, err := m.GetStatus(sid)
		return err == nil && st.State == types.StateClosing
	}, time.Second, 2*time.Millisecond)

	select {
	case err := <-killed:
		t.Fatalf("kill returned before construction settled: %v", err)
	case <-time.After(80 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-killed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not settle after construction")
	}
	assert.Equal(t, 0, m.Len())
	assert.True(t, f.last().wasKilled())
}

func TestConstructionFailureRemovesEntryFirst(t *testing.T) {
	gate := make(chan struct{})
	f := &stubFactory{gate: gate, err: errs.Constructionf("interpreter exploded")}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "bad"})
	require.NoError(t, err)

	sub, err := m.Subscribe(sid)
	require.NoError(t, err)
	defer sub.Close()

	s, err := m.Get(sid)
	require.NoError(t, err)
	waiterErr := make(chan error, 1)
	go func() {
		_, err := s.awaitReady(context.Background())
		waiterErr <- err
	}()

	close(gate)

	// Parked waiters receive the construction failure itself.
	select {
	case err := <-waiterErr:
		require.ErrorIs(t, err, errs.ErrConstruction)
	case <-time.After(2 * time.Second):
		t.Fatal("readiness waiter never woke")
	}

	// The entry is gone and the subscriber stream ended without events.
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 2*time.Millisecond)
	recvClosed(t, sub.C)

	_, err = m.Execute(ctx, sid, "1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetAutoCompleteTimeoutAbandons(t *testing.T) {
	f := &stubFactory{completeDelay: 2 * time.Second}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	start := time.Now()
	_, err = m.GetAutoComplete(ctx, sid, "pri", 3)
	elapsed := time.Since(start)
	require.ErrorIs(t, err, errs.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	// The session survives an abandoned completion.
	res, err := m.Execute(ctx, sid, "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
}

func TestGetAutoCompleteCursorOutOfRange(t *testing.T) {
	m := newTestManager(t, &stubFactory{})
	ctx := context.Background()

	_, err := m.GetAutoComplete(ctx, "kern_x", "abc", -1)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = m.GetAutoComplete(ctx, "kern_x", "abc", 4)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestUnsolicitedCloseForwardedThenRemoved(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	sub, err := m.Subscribe(sid)
	require.NoError(t, err)
	defer sub.Close()
	waitReady(t, m, sid)

	k := f.last()
	k.emit(types.Event{Kind: types.EventIOPub, Type: "stream"})
	k.crash(9)

	first := recv(t, sub.C)
	assert.Equal(t, types.EventIOPub, first.Kind)
	assert.Equal(t, sid, first.KernelID)

	last := recv(t, sub.C)
	assert.Equal(t, types.EventClose, last.Kind)
	assert.Equal(t, 9, last.ExitCode)
	assert.Equal(t, sid, last.KernelID)

	recvClosed(t, sub.C)
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 2*time.Millisecond)
}

func TestEventsRunThroughTransform(t *testing.T) {
	store, err := artifacts.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	f := &stubFactory{}
	m := NewManager(testSessionConfig(), f, pipeline.New(store, nil, nil), nil, nil, nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	sub, err := m.Subscribe(sid)
	require.NoError(t, err)
	defer sub.Close()
	waitReady(t, m, sid)

	payload, err := sonic.Marshal(map[string]interface{}{
		"data": map[string]interface{}{
			"image/png": "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==",
		},
	})
	require.NoError(t, err)
	f.last().emit(types.Event{Kind: types.EventIOPub, Type: "display_data", Payload: payload})

	ev := recv(t, sub.C)
	key := gjson.GetBytes(ev.Payload, "data.image/png").String()
	assert.True(t, artifacts.IsRouteKey(key), "payload not rewritten: %s", ev.Payload)

	path, err := store.Resolve(key)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestEventOrderSurvivesTransforms(t *testing.T) {
	store, err := artifacts.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	f := &stubFactory{}
	m := NewManager(testSessionConfig(), f, pipeline.New(store, nil, nil), nil, nil, nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	sub, err := m.Subscribe(sid)
	require.NoError(t, err)
	defer sub.Close()
	waitReady(t, m, sid)

	const n = 6
	k := f.last()
	for i := 0; i < n; i++ {
		payload, err := sonic.Marshal(map[string]interface{}{
			"data": map[string]interface{}{
				"text/html":  "<p>heavy</p>",
				"text/plain": i,
			},
		})
		require.NoError(t, err)
		k.emit(types.Event{Kind: types.EventIOPub, Type: "display_data", Payload: payload})
	}

	for i := 0; i < n; i++ {
		ev := recv(t, sub.C)
		assert.Equal(t, int64(i), gjson.GetBytes(ev.Payload, "data.text/plain").Int(),
			"events must arrive in emit order")
		assert.True(t, artifacts.IsRouteKey(gjson.GetBytes(ev.Payload, "data.text/html").String()))
	}
}

func TestConcurrentExecutesNotSerialized(t *testing.T) {
	f := &stubFactory{execDelay: 120 * time.Millisecond}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	waitReady(t, m, sid)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Execute(ctx, sid, "sleepy")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 220*time.Millisecond,
		"concurrent executes must overlap, not queue")
}

func TestStatusDuringCreation(t *testing.T) {
	gate := make(chan struct{})
	f := &stubFactory{gate: gate}
	m := newTestManager(t, f)

	sid, err := m.Create(context.Background(), types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	st, err := m.GetStatus(sid)
	require.NoError(t, err)
	assert.Equal(t, types.StateCreating, st.State)
	assert.Equal(t, "starting", st.ExecutionState)
	assert.Zero(t, st.PID)

	close(gate)
	waitReady(t, m, sid)

	st, err = m.GetStatus(sid)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, st.State)
	assert.Equal(t, "stub", st.Language)
	assert.Equal(t, 4242, st.PID)
}

func TestInterrupt(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	require.NoError(t, m.Interrupt(ctx, sid))
	assert.Equal(t, 1, f.last().interrupts())
}

func TestHiddenExecutionSkipsStats(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	_, err = m.Execute(ctx, sid, "visible")
	require.NoError(t, err)
	_, err = m.ExecuteHidden(ctx, sid, "setup()")
	require.NoError(t, err)
	_, err = m.Eval(ctx, sid, "probe")
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true, true}, f.last().hiddenFlags())

	infos := m.List()
	require.Len(t, infos, 1)
	require.NotNil(t, infos[0].Stats)
	assert.Equal(t, 1, infos[0].Stats.Count, "hidden runs must not count")
}

func TestExecuteRecordsHistory(t *testing.T) {
	hist, err := history.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	f := &stubFactory{}
	m := NewManager(testSessionConfig(), f, nil, hist, nil, nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	ctx := context.Background()

	sid, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	_, err = m.Execute(ctx, sid, "plot(df)")
	require.NoError(t, err)
	_, err = m.ExecuteHidden(ctx, sid, "internal()")
	require.NoError(t, err)

	entries, err := hist.Recent(ctx, sid, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "hidden execution must not be recorded")
	assert.Equal(t, "plot(df)", entries[0].Code)
	assert.Equal(t, "ok", entries[0].Status)
}

func TestListOrdersByCreation(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	first, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, first, infos[0].ID)
	assert.Equal(t, second, infos[1].ID)
}

func TestManagerCloseKillsAll(t *testing.T) {
	f := &stubFactory{}
	m := newTestManager(t, f)
	ctx := context.Background()

	_, err := m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)
	_, err = m.Create(ctx, types.LaunchOptions{Cmd: "stub"})
	require.NoError(t, err)

	m.Close(ctx)
	assert.Equal(t, 0, m.Len())
	for _, k := range f.all() {
		assert.True(t, k.wasKilled())
	}
}
