package interpreters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/kernel/embedded"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

type probeClient struct {
	events chan types.Event
	once   sync.Once
}

func newProbeClient() *probeClient {
	c := &probeClient{events: make(chan types.Event, 4)}
	c.events <- types.Event{Kind: types.EventReady}
	return c
}

func (c *probeClient) Execute(context.Context, string, bool) (types.ExecuteResult, error) {
	return types.ExecuteResult{}, nil
}

func (c *probeClient) Complete(context.Context, string, int) (types.Completion, error) {
	return types.Completion{}, nil
}

func (c *probeClient) IsComplete(context.Context, string) (types.Completeness, error) {
	return types.Completeness{}, nil
}

func (c *probeClient) Inspect(context.Context, string, int, int) (types.Inspection, error) {
	return types.Inspection{}, nil
}

func (c *probeClient) SendInputReply(string) error { return nil }
func (c *probeClient) Interrupt() error            { return nil }

func (c *probeClient) Kill(context.Context) error {
	c.once.Do(func() {
		c.events <- types.Event{Kind: types.EventClose, Signal: "killed"}
		close(c.events)
	})
	return nil
}

func (c *probeClient) Events() <-chan types.Event { return c.events }
func (c *probeClient) Language() string           { return "python" }
func (c *probeClient) Banner() string             { return "Python 3.12.1" }
func (c *probeClient) ExecState() string          { return "idle" }
func (c *probeClient) Pending() int               { return 0 }
func (c *probeClient) PID() int                   { return 101 }

type probeFactory struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *probeFactory) Launch(context.Context, types.LaunchOptions) (kernel.Client, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return newProbeClient(), nil
}

func (f *probeFactory) launchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *probeFactory) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestCheckValidInterpreter(t *testing.T) {
	f := &probeFactory{}
	p := NewProber(f, time.Second, nil, nil)

	res, err := p.Check(context.Background(), "/usr/bin/python3", "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "python", res.Language)
	assert.Equal(t, "Python 3.12.1", res.Banner)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, f.launchCalls())
}

func TestCheckEmptyCommand(t *testing.T) {
	p := NewProber(&probeFactory{}, time.Second, nil, nil)

	_, err := p.Check(context.Background(), "", "")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestCheckLaunchFailureReportsInvalid(t *testing.T) {
	f := &probeFactory{err: errors.New("exec: no such file")}
	p := NewProber(f, time.Second, nil, nil)

	res, err := p.Check(context.Background(), "/usr/bin/ghost", "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "no such file")
}

func TestCheckBreakerFailsFastAfterRepeatedFailures(t *testing.T) {
	f := &probeFactory{err: errors.New("exec: no such file")}
	p := NewProber(f, time.Second, nil, nil)

	for i := 0; i < 5; i++ {
		res, err := p.Check(context.Background(), "/usr/bin/ghost", "")
		require.NoError(t, err)
		assert.False(t, res.Valid)
	}

	// Three consecutive failures trip the breaker; the remaining checks
	// never reach the factory.
	assert.Equal(t, 3, f.launchCalls())

	res, err := p.Check(context.Background(), "/usr/bin/ghost", "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "circuit")
}

func TestCheckBreakersArePerCommand(t *testing.T) {
	f := &probeFactory{err: errors.New("boom")}
	p := NewProber(f, time.Second, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := p.Check(context.Background(), "/usr/bin/ghost", "")
		require.NoError(t, err)
	}

	f.setErr(nil)

	res, err := p.Check(context.Background(), "/usr/bin/python3", "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestCheckBuiltinRuntime(t *testing.T) {
	launcher := kernel.NewLauncher(kernel.Config{
		StartupTimeout: 5 * time.Second,
		KillGrace:      5 * time.Second,
	}, nil, embedded.Factory(nil))
	p := NewProber(launcher, 5*time.Second, nil, nil)

	res, err := p.Check(context.Background(), "builtin:js", "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "javascript", res.Language)
	assert.NotEmpty(t, res.Banner)
}
