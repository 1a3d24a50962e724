package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/history"
	"github.com/wckdouglas/rodeo/internal/infrastructure/config"
	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/pipeline"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/id"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// Manager owns the session table and the lifecycle of every kernel in
// it. It does not serialize concurrent operations on one session; the
// wire protocol correlates replies by request id, so overlapping calls
// are the client's protocol-level concern, not the table's.
type Manager struct {
	cfg       config.SessionConfig
	launcher  kernel.Factory
	transform *pipeline.Transformer
	history   *history.Store
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. transform, hist, and metrics may be nil.
func NewManager(cfg config.SessionConfig, launcher kernel.Factory, transform *pipeline.Transformer, hist *history.Store, logger *zap.Logger, metrics *monitoring.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		launcher:  launcher,
		transform: transform,
		history:   hist,
		logger:    logger,
		metrics:   metrics,
		sessions:  make(map[string]*Session),
	}
}

// Create registers a new session and starts kernel construction in the
// background. The returned id is valid for lookups and kills straight
// away, before the subprocess exists.
func (m *Manager) Create(ctx context.Context, opts types.LaunchOptions) (string, error) {
	if opts.Cmd == "" {
		return "", errs.InvalidArgumentf("launch command required")
	}
	s := newSession(string(id.NewKernelID()), opts, m.cfg.StatsWindow)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("id", s.ID), zap.String("cmd", opts.Cmd))
	go m.construct(context.WithoutCancel(ctx), s)
	return s.ID, nil
}

// construct runs client construction for s and settles its readiness.
// A failure removes the table entry before waiters wake, so nobody can
// reach a session that never came up.
func (m *Manager) construct(ctx context.Context, s *Session) {
	client, err := m.launcher.Launch(ctx, s.Options)
	if err != nil {
		s.fail(err)
		m.remove(s.ID)
		close(s.readyCh)
		s.closeSubs()
		m.metrics.KernelFailed("launch")
		m.logger.Error("session construction failed", zap.String("id", s.ID), zap.Error(err))
		return
	}

	promoted := s.setReady(client)
	m.metrics.KernelStarted()
	if promoted {
		m.logger.Info("session ready",
			zap.String("id", s.ID),
			zap.String("language", client.Language()),
			zap.Int("pid", client.PID()))
	} else {
		m.logger.Info("session ready during teardown", zap.String("id", s.ID))
	}
	go m.pump(s, client)
}

// pump owns the event stream of one session: stamp, transform, fan out.
// It is the only goroutine touching subscriber channels, which keeps
// per-session delivery in arrival order even though field extraction
// inside one event runs concurrently.
func (m *Manager) pump(s *Session, client kernel.Client) {
	for ev := range client.Events() {
		ev.KernelID = s.ID
		m.metrics.RecordEvent(string(ev.Kind))

		if ev.Kind != types.EventClose {
			s.fanout(m.transform.Transform(ev))
			continue
		}

		// Subscribers hear about the close before the entry disappears.
		s.fanout(ev)
		s.setState(types.StateClosed)
		m.remove(s.ID)
		m.logger.Info("session closed",
			zap.String("id", s.ID),
			zap.Int("exit_code", ev.ExitCode),
			zap.String("signal", ev.Signal))
	}
	s.closeSubs()
	m.metrics.KernelStopped()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.NotFoundf("session %s", id)
	}
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List snapshots every session, oldest first.
func (m *Manager) List() []types.KernelInfo {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	infos := make([]types.KernelInfo, len(all))
	for i, s := range all {
		infos[i] = s.Info()
	}
	return infos
}

func (m *Manager) resolveClient(ctx context.Context, id string) (kernel.Client, *Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.awaitReady(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, s, nil
}

// Kill tears down the session for id. A pending construction is waited
// out first so a kill issued right after create cannot race the spawn.
// The entry is removed unconditionally: an uncooperative subprocess
// does not keep its session alive.
func (m *Manager) Kill(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.setState(types.StateClosing)

	client, cerr := s.awaitReady(ctx)
	if cerr != nil {
		if errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
			return cerr
		}
		// Construction failed on its own; its path already removed the
		// entry. Nothing left to kill.
		m.logger.Debug("kill after failed construction", zap.String("id", id), zap.Error(cerr))
		return nil
	}

	if kerr := client.Kill(ctx); kerr != nil {
		m.logger.Warn("kernel kill failed", zap.String("id", id), zap.Error(kerr))
	}
	m.remove(id)
	s.setState(types.StateClosed)
	m.logger.Info("session killed", zap.String("id", id))
	return nil
}

// Execute runs code on the session's kernel and returns its reply.
// Display output arrives on the event stream, not in the reply.
func (m *Manager) Execute(ctx context.Context, sid, code string) (types.ExecuteResult, error) {
	return m.execute(ctx, sid, code, false)
}

// ExecuteHidden runs code without bumping the execution count or
// echoing results; used for setup code the user never typed.
func (m *Manager) ExecuteHidden(ctx context.Context, sid, code string) (types.ExecuteResult, error) {
	return m.execute(ctx, sid, code, true)
}

// Eval is hidden execution under the name the GUI uses for expression
// probes (watch panes, variable explorers).
func (m *Manager) Eval(ctx context.Context, sid, code string) (types.ExecuteResult, error) {
	return m.execute(ctx, sid, code, true)
}

func (m *Manager) execute(ctx context.Context, sid, code string, hidden bool) (types.ExecuteResult, error) {
	if code == "" {
		return types.ExecuteResult{}, errs.InvalidArgumentf("execute text required")
	}
	client, s, err := m.resolveClient(ctx, sid)
	if err != nil {
		return types.ExecuteResult{}, err
	}

	s.beginExec()
	start := time.Now()
	res, err := client.Execute(ctx, code, hidden)
	elapsed := time.Since(start)
	s.endExec()

	status := res.Status
	if err != nil {
		status = "error"
	}
	m.metrics.RecordExecution(status, elapsed)
	if !hidden {
		s.stats.record(elapsed)
		m.history.Record(context.WithoutCancel(ctx), history.Entry{
			SessionID:  sid,
			Code:       code,
			Status:     status,
			DurationMs: elapsed.Milliseconds(),
			StartedAt:  start,
		})
	}
	return res, err
}

// GetAutoComplete asks the kernel for completions at cursor. The call
// is bounded by the configured timeout; on expiry it fails with a
// timeout error and the kernel-side request is abandoned, not
// cancelled. The session stays usable afterwards.
func (m *Manager) GetAutoComplete(ctx context.Context, sid, text string, cursor int) (types.Completion, error) {
	if cursor < 0 || cursor > len(text) {
		return types.Completion{}, errs.InvalidArgumentf("cursor position %d out of range", cursor)
	}
	timeout := m.cfg.CompleteTimeout.Std()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, _, err := m.resolveClient(tctx, sid)
	if err != nil {
		return types.Completion{}, m.mapCompleteErr(err, timeout)
	}
	res, err := client.Complete(tctx, text, cursor)
	if err != nil {
		return types.Completion{}, m.mapCompleteErr(err, timeout)
	}
	return res, nil
}

func (m *Manager) mapCompleteErr(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.metrics.IncCompleteTimeouts()
		return errs.Timeoutf("completion timed out after %s", timeout)
	}
	return err
}

// IsComplete asks the kernel whether text is a finished statement.
func (m *Manager) IsComplete(ctx context.Context, sid, text string) (types.Completeness, error) {
	client, _, err := m.resolveClient(ctx, sid)
	if err != nil {
		return types.Completeness{}, err
	}
	return client.IsComplete(ctx, text)
}

// GetInspection asks the kernel for introspection at cursor.
func (m *Manager) GetInspection(ctx context.Context, sid, text string, cursor, detail int) (types.Inspection, error) {
	if cursor < 0 || cursor > len(text) {
		return types.Inspection{}, errs.InvalidArgumentf("cursor position %d out of range", cursor)
	}
	client, _, err := m.resolveClient(ctx, sid)
	if err != nil {
		return types.Inspection{}, err
	}
	return client.Inspect(ctx, text, cursor, detail)
}

// GetStatus returns the local status snapshot for sid without waiting
// for readiness or touching the wire.
func (m *Manager) GetStatus(sid string) (types.KernelStatus, error) {
	s, err := m.Get(sid)
	if err != nil {
		return types.KernelStatus{}, err
	}
	return s.Status(), nil
}

// Interrupt signals the kernel's process group. Advisory: in-flight
// execution may or may not stop.
func (m *Manager) Interrupt(ctx context.Context, sid string) error {
	client, _, err := m.resolveClient(ctx, sid)
	if err != nil {
		return err
	}
	return client.Interrupt()
}

// SendInputReply answers a pending stdin request on the kernel.
func (m *Manager) SendInputReply(ctx context.Context, sid, value string) error {
	client, _, err := m.resolveClient(ctx, sid)
	if err != nil {
		return err
	}
	return client.SendInputReply(value)
}

// Subscribe attaches to the session's transformed event stream.
func (m *Manager) Subscribe(sid string) (*Subscription, error) {
	s, err := m.Get(sid)
	if err != nil {
		return nil, err
	}
	return s.subscribe(m.cfg.SubscriberBuffer), nil
}

// Close kills every live session; used at shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for sid := range m.sessions {
		ids = append(ids, sid)
	}
	m.mu.RUnlock()

	for _, sid := range ids {
		if err := m.Kill(ctx, sid); err != nil && !errors.Is(err, errs.ErrNotFound) {
			m.logger.Warn("session close failed", zap.String("id", sid), zap.Error(err))
		}
	}
}
