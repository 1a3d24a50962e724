package embedded

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Kill(context.Background())
		for range r.Events() {
		}
	})
	return r
}

func collect(t *testing.T, r *Runtime, n int) []types.Event {
	t.Helper()
	out := make([]types.Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(out))
		}
	}
	return out
}

func TestNewEmitsReady(t *testing.T) {
	r := newRuntime(t)

	ev := collect(t, r, 1)[0]
	assert.Equal(t, types.EventReady, ev.Kind)
	assert.Equal(t, "javascript", gjson.GetBytes(ev.Payload, "content.language").String())
}

func TestExecuteExpression(t *testing.T) {
	r := newRuntime(t)

	result, err := r.Execute(context.Background(), "6 * 7", false)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, int64(1), result.ExecutionCount)

	// ready, busy, execute_result, execute_reply, idle
	events := collect(t, r, 5)
	assert.Equal(t, "execute_result", events[2].Type)
	assert.Equal(t, "42",
		gjson.GetBytes(events[2].Payload, "content.data.text/plain").String())
}

func TestExecuteHiddenSuppressesDisplayAndCount(t *testing.T) {
	r := newRuntime(t)

	result, err := r.Execute(context.Background(), "1 + 1", true)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, int64(0), result.ExecutionCount)

	// ready, busy, execute_reply, idle: no execute_result
	events := collect(t, r, 4)
	assert.Equal(t, "execute_reply", events[2].Type)
}

func TestConsoleStreams(t *testing.T) {
	r := newRuntime(t)

	_, err := r.Execute(context.Background(), `console.log("hello", "world");`, false)
	require.NoError(t, err)

	// ready, busy, stream, execute_reply, idle (void expression: no result)
	events := collect(t, r, 5)
	assert.Equal(t, "stream", events[2].Type)
	assert.Equal(t, "hello world\n",
		gjson.GetBytes(events[2].Payload, "content.text").String())
	assert.Equal(t, "stdout",
		gjson.GetBytes(events[2].Payload, "content.name").String())
}

func TestDisplayEmitsDisplayData(t *testing.T) {
	r := newRuntime(t)

	_, err := r.Execute(context.Background(),
		`display({"text/html": "<b>hi</b>"});`, false)
	require.NoError(t, err)

	events := collect(t, r, 5)
	assert.Equal(t, "display_data", events[2].Type)
	assert.Equal(t, "<b>hi</b>",
		gjson.GetBytes(events[2].Payload, "content.data.text/html").String())
}

func TestExecuteExceptionIsResultNotError(t *testing.T) {
	r := newRuntime(t)

	result, err := r.Execute(context.Background(), `throw new Error("nope");`, false)
	require.NoError(t, err, "JS exceptions are results, not call failures")
	assert.Equal(t, "error", result.Status)

	// ready, busy, error, execute_reply, idle
	events := collect(t, r, 5)
	assert.Equal(t, "error", events[2].Type)
	assert.Contains(t,
		gjson.GetBytes(events[2].Payload, "content.evalue").String(), "nope")
}

func TestExecuteSyntaxError(t *testing.T) {
	r := newRuntime(t)

	result, err := r.Execute(context.Background(), "function {", false)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
}

func TestExecuteAbortedOnContextCancel(t *testing.T) {
	r := newRuntime(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := r.Execute(ctx, "while (true) {}", false)
	require.NoError(t, err)
	assert.Equal(t, "aborted", result.Status)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The VM stays usable after an abort.
	result, err = r.Execute(context.Background(), "2 + 2", false)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
}

func TestInterruptAbortsBusyLoop(t *testing.T) {
	r := newRuntime(t)

	done := make(chan types.ExecuteResult, 1)
	go func() {
		result, _ := r.Execute(context.Background(),
			`console.log("spinning"); while (true) {}`, false)
		done <- result
	}()

	// Wait for the console write so the loop is known to be past the
	// interrupt-flag reset that starts every execute.
wait:
	for {
		select {
		case ev := <-r.Events():
			if ev.Type == "stream" {
				break wait
			}
		case <-time.After(2 * time.Second):
			t.Fatal("script never reached the console write")
		}
	}

	require.NoError(t, r.Interrupt())

	select {
	case result := <-done:
		assert.Equal(t, "aborted", result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt did not stop the loop")
	}

	// The VM stays usable after an interrupt.
	result, err := r.Execute(context.Background(), "3 + 3", false)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
}

func TestCompleteMatchesGlobalsAndKeywords(t *testing.T) {
	r := newRuntime(t)

	_, err := r.Execute(context.Background(), "var answer = 42;", true)
	require.NoError(t, err)

	code := "ans"
	completion, err := r.Complete(context.Background(), code, len(code))
	require.NoError(t, err)
	assert.Contains(t, completion.Matches, "answer")
	assert.Equal(t, 0, completion.CursorStart)
	assert.Equal(t, 3, completion.CursorEnd)

	completion, err = r.Complete(context.Background(), "whi", 3)
	require.NoError(t, err)
	assert.Contains(t, completion.Matches, "while")
}

func TestIsComplete(t *testing.T) {
	r := newRuntime(t)

	tests := []struct {
		code   string
		status string
	}{
		{"1 + 1", "complete"},
		{"function f() {", "incomplete"},
		{"", "complete"},
		{"1 +* 2", "invalid"},
	}
	for _, tt := range tests {
		got, err := r.IsComplete(context.Background(), tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.status, got.Status, "code %q", tt.code)
	}
}

func TestInspect(t *testing.T) {
	r := newRuntime(t)

	_, err := r.Execute(context.Background(), `var greeting = "hi";`, true)
	require.NoError(t, err)

	code := "greeting"
	insp, err := r.Inspect(context.Background(), code, len(code), 0)
	require.NoError(t, err)
	assert.True(t, insp.Found)
	assert.Equal(t, "hi", gjson.GetBytes(insp.Data, "text/plain").String())

	insp, err = r.Inspect(context.Background(), "missing", 7, 0)
	require.NoError(t, err)
	assert.False(t, insp.Found)
}

func TestKillClosesStream(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, r.Kill(context.Background()))
	require.NoError(t, r.Kill(context.Background()), "kill is idempotent")

	var last types.Event
	for ev := range r.Events() {
		last = ev
	}
	assert.Equal(t, types.EventClose, last.Kind)

	_, err = r.Execute(context.Background(), "1", false)
	assert.Error(t, err, "execute after kill fails")
}

func TestFactorySelectsRuntime(t *testing.T) {
	factory := Factory(nil)

	client, err := factory(context.Background(), types.LaunchOptions{Cmd: "builtin:js"})
	require.NoError(t, err)
	assert.Equal(t, "javascript", client.Language())
	require.NoError(t, client.Kill(context.Background()))
	for range client.Events() {
	}

	_, err = factory(context.Background(), types.LaunchOptions{Cmd: "builtin:cobol"})
	assert.Error(t, err)
}

func TestImplementsClient(t *testing.T) {
	var _ kernel.Client = (*Runtime)(nil)
}
