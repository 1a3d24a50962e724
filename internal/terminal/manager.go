package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/infrastructure/config"
	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/id"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// Options configure one new terminal. Zero values fall back to the
// user's shell, home directory, and an 80x24 window.
type Options struct {
	Shell string            `json:"shell,omitempty"`
	Cwd   string            `json:"cwd,omitempty"`
	Cols  int               `json:"cols,omitempty"`
	Rows  int               `json:"rows,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

// Manager owns the terminal table.
type Manager struct {
	cfg     config.TerminalConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu    sync.RWMutex
	terms map[string]*Terminal
}

// NewManager creates an empty manager. metrics may be nil.
func NewManager(cfg config.TerminalConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		terms:   make(map[string]*Terminal),
	}
}

// Create starts a shell under a PTY and registers it.
func (m *Manager) Create(opts Options) (Info, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = os.Getenv("HOME")
	}
	if cwd == "" {
		cwd = os.TempDir()
	}
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(shell)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return Info{}, errs.Constructionf("start pty: %v", err)
	}

	t := &Terminal{
		ID:        string(id.NewTerminalID()),
		Shell:     shell,
		Cwd:       cwd,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		out:       newRing(m.cfg.BufferBytes),
		cols:      cols,
		rows:      rows,
	}

	m.mu.Lock()
	m.terms[t.ID] = t
	m.mu.Unlock()

	go m.readOutput(t)
	go m.reap(t)

	m.metrics.TerminalOpened()
	m.logger.Info("terminal opened",
		zap.String("terminal_id", t.ID),
		zap.String("shell", shell),
		zap.Int("pid", cmd.Process.Pid))
	return t.info(), nil
}

// readOutput pumps PTY output into the ring until the shell goes away.
func (m *Manager) readOutput(t *Terminal) {
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			t.out.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF && !t.isClosed() {
				m.logger.Debug("terminal read ended",
					zap.String("terminal_id", t.ID),
					zap.Error(err))
			}
			return
		}
	}
}

// reap waits for the shell to exit on its own (user typed exit, shell
// crashed) and marks the terminal dead so the pane stops offering input.
// The entry stays in the table until Close so remaining output can still
// be drained.
func (m *Manager) reap(t *Terminal) {
	err := t.cmd.Wait()
	if t.markClosed() {
		t.ptmx.Close()
		m.metrics.TerminalClosed()
		m.logger.Info("terminal shell exited",
			zap.String("terminal_id", t.ID),
			zap.Error(err))
	}
}

// Write sends input bytes to the shell.
func (m *Manager) Write(tid string, input []byte) error {
	t, err := m.get(tid)
	if err != nil {
		return err
	}
	if t.isClosed() {
		return errs.InvalidArgumentf("terminal %s is closed", tid)
	}
	if _, err := t.ptmx.Write(input); err != nil {
		return fmt.Errorf("write terminal input: %w", err)
	}
	return nil
}

// Read drains the output accumulated since the last call.
func (m *Manager) Read(tid string) ([]byte, error) {
	t, err := m.get(tid)
	if err != nil {
		return nil, err
	}
	return t.out.Drain(), nil
}

// Resize changes the PTY window size.
func (m *Manager) Resize(tid string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return errs.InvalidArgumentf("terminal size %dx%d out of range", cols, rows)
	}
	t, err := m.get(tid)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errs.InvalidArgumentf("terminal %s is closed", tid)
	}
	if err := pty.Setsize(t.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("resize terminal: %w", err)
	}
	t.cols, t.rows = cols, rows
	return nil
}

// Close kills the shell if it is still running and removes the terminal.
func (m *Manager) Close(tid string) error {
	t, err := m.get(tid)
	if err != nil {
		return err
	}

	if t.markClosed() {
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		t.ptmx.Close()
		m.metrics.TerminalClosed()
		m.logger.Info("terminal closed", zap.String("terminal_id", t.ID))
	}

	m.mu.Lock()
	delete(m.terms, tid)
	m.mu.Unlock()
	return nil
}

// CloseAll tears down every terminal. Used on shutdown.
func (m *Manager) CloseAll() {
	for _, info := range m.List() {
		_ = m.Close(info.ID)
	}
}

// Get returns the public view of one terminal.
func (m *Manager) Get(tid string) (Info, error) {
	t, err := m.get(tid)
	if err != nil {
		return Info{}, err
	}
	return t.info(), nil
}

// List returns all terminals, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.terms))
	for _, t := range m.terms {
		out = append(out, t.info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len reports how many terminals are registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terms)
}

func (m *Manager) get(tid string) (*Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terms[tid]
	if !ok {
		return nil, errs.NotFoundf("terminal %s", tid)
	}
	return t, nil
}
