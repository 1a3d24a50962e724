package interpreters

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/infrastructure/resilience"
	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

const (
	defaultProbeTimeout = 10 * time.Second
	probeKillGrace      = 3 * time.Second
)

// Result is the outcome of probing one interpreter command.
type Result struct {
	Valid    bool   `json:"valid"`
	Language string `json:"language,omitempty"`
	Banner   string `json:"banner,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Prober validates interpreter commands by launching a throwaway
// kernel, capturing its ready banner, and tearing it down. Each command
// gets its own circuit breaker so a broken install fails fast instead
// of re-spawning doomed processes on every check.
type Prober struct {
	factory kernel.Factory
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// NewProber creates a prober launching through factory. A non-positive
// timeout falls back to 10s.
func NewProber(factory kernel.Factory, timeout time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		factory:  factory,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*resilience.Breaker),
	}
}

// Check probes cmd. An empty cmd is the caller's mistake and surfaces as
// an error; a command that fails to launch or never becomes ready is a
// normal outcome reported as Valid=false with a nil error.
func (p *Prober) Check(ctx context.Context, cmd, cwd string) (Result, error) {
	if cmd == "" {
		return Result{}, errs.InvalidArgumentf("probe command required")
	}

	out, err := p.breaker(cmd).Execute(func() (interface{}, error) {
		return p.probe(ctx, cmd, cwd)
	})
	if err != nil {
		p.metrics.RecordProbe("invalid")
		p.logger.Info("interpreter probe failed",
			zap.String("cmd", cmd),
			zap.Error(err))
		return Result{Valid: false, Error: err.Error()}, nil
	}

	p.metrics.RecordProbe("valid")
	return out.(Result), nil
}

// probe launches and tears down one kernel under the probe timeout.
func (p *Prober) probe(ctx context.Context, cmd, cwd string) (Result, error) {
	lctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := p.factory.Launch(lctx, types.LaunchOptions{Cmd: cmd, Cwd: cwd})
	if err != nil {
		return Result{}, err
	}

	res := Result{Valid: true, Language: client.Language(), Banner: client.Banner()}

	// The event stream must drain until close or the runtime's reader
	// wedges on a full buffer mid-shutdown.
	go func() {
		for range client.Events() {
		}
	}()

	kctx, kcancel := context.WithTimeout(context.Background(), probeKillGrace)
	defer kcancel()
	if err := client.Kill(kctx); err != nil {
		p.logger.Warn("probe kernel kill failed",
			zap.String("cmd", cmd),
			zap.Error(err))
	}
	return res, nil
}

func (p *Prober) breaker(cmd string) *resilience.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if br, ok := p.breakers[cmd]; ok {
		return br
	}
	br := resilience.New("probe:"+cmd, resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	p.breakers[cmd] = br
	return br
}
