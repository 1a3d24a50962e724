package terminal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wckdouglas/rodeo/internal/infrastructure/config"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(config.TerminalConfig{BufferBytes: 1 << 16}, nil, nil)
	t.Cleanup(m.CloseAll)
	return m
}

func createShell(t *testing.T, m *Manager) Info {
	t.Helper()
	info, err := m.Create(Options{Shell: "/bin/sh", Cwd: t.TempDir(), Cols: 100, Rows: 30})
	require.NoError(t, err)
	return info
}

// drainUntil polls Read until the accumulated output contains want.
func drainUntil(t *testing.T, m *Manager, tid, want string) string {
	t.Helper()
	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		out, err := m.Read(tid)
		require.NoError(t, err)
		got.Write(out)
		if strings.Contains(got.String(), want) {
			return got.String()
		}
		select {
		case <-deadline:
			t.Fatalf("output never contained %q, got %q", want, got.String())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCreateWriteRead(t *testing.T) {
	m := newTestManager(t)
	info := createShell(t, m)

	assert.True(t, strings.HasPrefix(info.ID, "term_"))
	assert.True(t, info.Active)
	assert.Equal(t, 100, info.Cols)
	assert.Equal(t, 30, info.Rows)
	assert.NotZero(t, info.PID)

	// $((20+3)) keeps the expected text out of the echoed command line,
	// so a match proves the shell actually ran it.
	require.NoError(t, m.Write(info.ID, []byte("echo rodeo-$((20+3))\n")))
	drainUntil(t, m, info.ID, "rodeo-23")
}

func TestEnvPassedToShell(t *testing.T) {
	m := newTestManager(t)
	info, err := m.Create(Options{
		Shell: "/bin/sh",
		Cwd:   t.TempDir(),
		Env:   map[string]string{"RODEO_PANE": "left"},
	})
	require.NoError(t, err)

	require.NoError(t, m.Write(info.ID, []byte("echo pane=$RODEO_PANE\n")))
	drainUntil(t, m, info.ID, "pane=left")
}

func TestDefaultsApplied(t *testing.T) {
	m := newTestManager(t)
	info, err := m.Create(Options{Shell: "/bin/sh"})
	require.NoError(t, err)

	assert.Equal(t, defaultCols, info.Cols)
	assert.Equal(t, defaultRows, info.Rows)
	assert.NotEmpty(t, info.Cwd)
}

func TestResize(t *testing.T) {
	m := newTestManager(t)
	info := createShell(t, m)

	require.NoError(t, m.Resize(info.ID, 132, 43))
	got, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 132, got.Cols)
	assert.Equal(t, 43, got.Rows)

	require.ErrorIs(t, m.Resize(info.ID, 0, 43), errs.ErrInvalidArgument)
}

func TestCloseRemovesTerminal(t *testing.T) {
	m := newTestManager(t)
	info := createShell(t, m)

	require.NoError(t, m.Close(info.ID))
	assert.Zero(t, m.Len())

	require.ErrorIs(t, m.Close(info.ID), errs.ErrNotFound)
	_, err := m.Read(info.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUnknownTerminal(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get("term_missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, m.Write("term_missing", []byte("x")), errs.ErrNotFound)
	require.ErrorIs(t, m.Resize("term_missing", 80, 24), errs.ErrNotFound)
}

func TestExitedShellMarkedInactive(t *testing.T) {
	m := newTestManager(t)
	info := createShell(t, m)

	require.NoError(t, m.Write(info.ID, []byte("exit\n")))

	assert.Eventually(t, func() bool {
		got, err := m.Get(info.ID)
		return err == nil && !got.Active
	}, 5*time.Second, 20*time.Millisecond)

	// The entry survives until Close so remaining output can drain,
	// but input is refused.
	assert.Equal(t, 1, m.Len())
	require.ErrorIs(t, m.Write(info.ID, []byte("echo nope\n")), errs.ErrInvalidArgument)

	require.NoError(t, m.Close(info.ID))
	assert.Zero(t, m.Len())
}

func TestListOrdersByStart(t *testing.T) {
	m := newTestManager(t)
	first := createShell(t, m)
	second := createShell(t, m)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}
