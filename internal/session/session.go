package session

import (
	"context"
	"sync"
	"time"

	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// Session is one kernel lifecycle owned by the manager. The entry is
// registered before the subprocess exists, so lookups and kills issued
// immediately after creation resolve the entry instead of racing the
// spawn.
type Session struct {
	ID        string
	Options   types.LaunchOptions
	CreatedAt time.Time

	mu       sync.RWMutex
	state    types.SessionState
	client   kernel.Client
	ctorErr  error
	inflight int

	// readyCh closes exactly once, after client or ctorErr is set.
	readyCh chan struct{}

	subMu      sync.Mutex
	subs       map[*Subscription]struct{}
	subsClosed bool

	stats *statsWindow
}

func newSession(id string, opts types.LaunchOptions, statsWindowSize int) *Session {
	return &Session{
		ID:        id,
		Options:   opts,
		CreatedAt: time.Now(),
		state:     types.StateCreating,
		readyCh:   make(chan struct{}),
		subs:      make(map[*Subscription]struct{}),
		stats:     newStatsWindow(statsWindowSize),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st types.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// setReady publishes the live client and wakes readiness waiters. It
// reports whether the session was still creating; a kill that arrived
// first leaves the state at closing and setReady returns false.
func (s *Session) setReady(c kernel.Client) bool {
	s.mu.Lock()
	s.client = c
	promoted := s.state == types.StateCreating
	if promoted {
		s.state = types.StateReady
	}
	s.mu.Unlock()
	close(s.readyCh)
	return promoted
}

// fail records a construction error. The manager removes the table
// entry before closing readyCh, so waiters observe the failure only
// after the session is already gone.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.ctorErr = err
	s.state = types.StateFailed
	s.mu.Unlock()
}

// awaitReady blocks until construction settles or ctx expires.
func (s *Session) awaitReady(ctx context.Context) (kernel.Client, error) {
	select {
	case <-s.readyCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctorErr != nil {
		return nil, s.ctorErr
	}
	return s.client, nil
}

// beginExec marks an execution in flight. Busy is advisory and never
// overrides closing or closed.
func (s *Session) beginExec() {
	s.mu.Lock()
	s.inflight++
	if s.state == types.StateReady {
		s.state = types.StateBusy
	}
	s.mu.Unlock()
}

func (s *Session) endExec() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.state == types.StateBusy {
		s.state = types.StateReady
	}
	s.mu.Unlock()
}

// Info snapshots the table view of the session.
func (s *Session) Info() types.KernelInfo {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	return types.KernelInfo{
		ID:        s.ID,
		State:     st,
		Options:   s.Options,
		CreatedAt: s.CreatedAt,
		Stats:     s.stats.snapshot(),
	}
}

// Status composes the local status snapshot. It never waits for
// readiness and involves no wire call, so the GUI can poll it while the
// kernel is still starting.
func (s *Session) Status() types.KernelStatus {
	s.mu.RLock()
	st, c := s.state, s.client
	s.mu.RUnlock()

	ks := types.KernelStatus{State: st, ExecutionState: "starting"}
	if c != nil {
		ks.ExecutionState = c.ExecState()
		ks.PID = c.PID()
		ks.Pending = c.Pending()
		ks.Language = c.Language()
		ks.Banner = c.Banner()
	}
	return ks
}

// Subscription is one subscriber's view of a session event stream. C
// closes after the final close event. Callers must Close when done so a
// stalled consumer cannot block delivery to the rest.
type Subscription struct {
	C    <-chan types.Event
	ch   chan types.Event
	done chan struct{}
	once sync.Once
}

// Close detaches the subscriber. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() { close(sub.done) })
}

// subscribe attaches a buffered subscriber. Sessions that already
// finished yield an immediately closed channel.
func (s *Session) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		ch := make(chan types.Event)
		close(ch)
		return &Subscription{C: ch, done: make(chan struct{})}
	}
	sub := &Subscription{ch: make(chan types.Event, buffer), done: make(chan struct{})}
	sub.C = sub.ch
	s.subs[sub] = struct{}{}
	return sub
}

// fanout delivers ev to every subscriber. Only the pump goroutine calls
// this, which is what keeps per-session ordering strict. A subscriber
// with a full buffer blocks delivery until it drains or closes.
func (s *Session) fanout(ev types.Event) {
	s.subMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
			s.unsubscribe(sub)
		}
	}
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.subMu.Lock()
	delete(s.subs, sub)
	s.subMu.Unlock()
}

// closeSubs ends every subscriber stream; later subscribes observe an
// already closed channel.
func (s *Session) closeSubs() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		return
	}
	s.subsClosed = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
}
