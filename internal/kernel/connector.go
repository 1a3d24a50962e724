package kernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/id"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// Config bounds connector behavior. Zero values fall back to defaults.
type Config struct {
	// StartupTimeout bounds the wait for the ready message.
	StartupTimeout time.Duration
	// KillGrace bounds the wait for a killed process to be reaped.
	KillGrace time.Duration
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
	// MaxLineBytes caps one stdout message; larger lines are dropped and
	// surfaced as protocol error events.
	MaxLineBytes int
}

const (
	defaultStartupTimeout = 30 * time.Second
	defaultKillGrace      = 3 * time.Second
	defaultEventBuffer    = 256
	defaultMaxLineBytes   = 32 << 20
	stderrTailBytes       = 8 << 10
)

func (c Config) withDefaults() Config {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = defaultMaxLineBytes
	}
	return c
}

// Connector speaks the line-delimited JSON protocol with one kernel
// subprocess. Requests are serialized onto stdin, stdout messages resolve
// pending requests and feed the event stream, stderr is kept as a bounded
// tail for diagnostics.
//
// The event channel must be drained until it closes. The final event is
// always EventClose, emitted after the process is reaped.
type Connector struct {
	proc   *proc
	cfg    Config
	logger *zap.Logger

	writeMu sync.Mutex

	pending *pending
	events  chan types.Event

	readyCh   chan struct{}
	readyOnce sync.Once

	mu        sync.RWMutex
	language  string
	banner    string
	execState string

	tail *tailBuffer
	wg   sync.WaitGroup
}

// Launch spawns a kernel subprocess and blocks until it reports ready, the
// process dies, or the startup deadline passes. On every failure path the
// subprocess is gone before Launch returns.
func Launch(ctx context.Context, opts types.LaunchOptions, cfg Config, logger *zap.Logger) (*Connector, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := spawn(opts)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		proc:      p,
		cfg:       cfg,
		logger:    logger,
		pending:   newPending(),
		events:    make(chan types.Event, cfg.EventBuffer),
		readyCh:   make(chan struct{}),
		execState: "starting",
		tail:      newTailBuffer(stderrTailBytes),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.tailLoop()
	go c.run()

	timer := time.NewTimer(cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case <-c.readyCh:
		logger.Info("kernel ready",
			zap.Int("pid", p.pid()),
			zap.String("language", c.Language()))
		return c, nil

	case <-p.done:
		go discard(c.events)
		return nil, errs.Constructionf("kernel exited before ready (code %d): %s",
			p.exitCode, c.tail.String())

	case <-ctx.Done():
		p.kill()
		go discard(c.events)
		return nil, errs.Constructionf("launch aborted: %v", ctx.Err())

	case <-timer.C:
		p.kill()
		go discard(c.events)
		return nil, errs.Constructionf("kernel not ready after %s: %s",
			cfg.StartupTimeout, c.tail.String())
	}
}

// discard honors the drain contract when no consumer ever attaches.
func discard(events <-chan types.Event) {
	for range events {
	}
}

// run reaps the process once both pipe readers finish, then emits the
// final close event and shuts the stream.
func (c *Connector) run() {
	c.wg.Wait()
	c.proc.reap()

	c.logger.Info("kernel exited",
		zap.Int("pid", c.proc.pid()),
		zap.Int("code", c.proc.exitCode),
		zap.String("signal", c.proc.signal))

	c.events <- types.Event{
		Kind:     types.EventClose,
		ExitCode: c.proc.exitCode,
		Signal:   c.proc.signal,
	}
	close(c.events)
}

// readLoop reads stdout line by line. Oversized lines are discarded whole
// so one runaway message cannot wedge the stream.
func (c *Connector) readLoop() {
	defer c.wg.Done()

	r := bufio.NewReaderSize(c.proc.stdout, 64<<10)
	var line []byte
	dropping := false

	for {
		chunk, err := r.ReadSlice('\n')
		if !dropping {
			line = append(line, chunk...)
			if len(line) > c.cfg.MaxLineBytes {
				dropping = true
				line = nil
			}
		}

		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			// EOF or closed pipe. A final unterminated line is still a message.
			if !dropping && len(bytes.TrimSpace(line)) > 0 {
				c.handleLine(line)
			}
			return
		}

		if dropping {
			dropping = false
			c.logger.Warn("kernel message exceeds size limit",
				zap.Int("limit_bytes", c.cfg.MaxLineBytes))
			c.emit(types.Event{
				Kind:    types.EventError,
				Type:    "protocol",
				Message: fmt.Sprintf("kernel message exceeds %d byte limit", c.cfg.MaxLineBytes),
			})
		} else if len(bytes.TrimSpace(line)) > 0 {
			c.handleLine(line)
		}
		line = line[:0]
	}
}

// tailLoop drains stderr into the bounded tail.
func (c *Connector) tailLoop() {
	defer c.wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := c.proc.stderr.Read(buf)
		if n > 0 {
			c.tail.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// handleLine decodes one stdout line, resolves any pending request it
// answers, and forwards it on the event stream.
func (c *Connector) handleLine(line []byte) {
	var msg message
	if err := sonic.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("malformed kernel message", zap.Error(err))
		c.emit(types.Event{
			Kind:    types.EventError,
			Type:    "protocol",
			Message: fmt.Sprintf("malformed kernel message: %v", err),
		})
		return
	}

	// The read loop reuses its line buffer.
	payload := make(json.RawMessage, len(line))
	copy(payload, line)

	switch {
	case msg.Channel == channelSystem && msg.Type == typeReady:
		var rc readyContent
		if len(msg.Content) > 0 {
			_ = sonic.Unmarshal(msg.Content, &rc)
		}
		c.mu.Lock()
		c.language = rc.Language
		c.banner = rc.Banner
		c.execState = "idle"
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.readyCh) })
		c.emit(types.Event{Kind: types.EventReady, Type: msg.Type, Payload: payload})
		return

	case msg.Channel == channelIOPub && msg.Type == typeStatus:
		var sc statusContent
		if err := sonic.Unmarshal(msg.Content, &sc); err == nil && sc.ExecutionState != "" {
			c.setExecState(sc.ExecutionState)
		}
	}

	if msg.Channel == channelShell && msg.Parent != "" {
		c.pending.resolve(msg.Parent, msg)
	}

	c.emit(eventFrom(msg, payload))
}

// eventFrom maps a wire message onto the typed event union.
func eventFrom(msg message, payload json.RawMessage) types.Event {
	ev := types.Event{
		Type:    msg.Type,
		Parent:  msg.Parent,
		Payload: payload,
	}

	switch msg.Channel {
	case channelShell:
		ev.Kind = types.EventShell
	case channelIOPub:
		ev.Kind = types.EventIOPub
	case channelStdin:
		if msg.Type == typeInputRequest {
			ev.Kind = types.EventInputRequest
		} else {
			ev.Kind = types.EventStdin
		}
	default:
		ev.Kind = types.EventGeneric
		ev.Source = msg.Channel
	}
	return ev
}

// emit blocks until the consumer accepts the event, which backpressures
// stdout reading against slow consumers.
func (c *Connector) emit(ev types.Event) {
	c.events <- ev
}

// Do writes one request and waits for its shell reply. Cancellation
// abandons the wait without touching the kernel: the in-flight work keeps
// running and its side-effect events still stream.
func (c *Connector) Do(ctx context.Context, req request) (message, error) {
	if req.ID == "" {
		req.ID = string(id.NewRequestID())
	}

	ch := c.pending.add(req.ID)

	if err := c.write(req); err != nil {
		c.pending.drop(req.ID)
		return message{}, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		c.pending.drop(req.ID)
		return message{}, ctx.Err()
	case <-c.proc.done:
		// A reply written just before exit was already resolved by the
		// read loop; prefer it over the death report.
		select {
		case msg := <-ch:
			return msg, nil
		default:
		}
		c.pending.drop(req.ID)
		return message{}, errs.Protocolf("kernel exited (code %d)", c.proc.exitCode)
	}
}

// write serializes one request line onto the kernel's stdin.
func (c *Connector) write(req request) error {
	line, err := sonic.Marshal(req)
	if err != nil {
		return errs.Protocolf("encode %s request: %v", req.Op, err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.proc.stdin.Write(line); err != nil {
		return errs.Protocolf("write %s request: %v", req.Op, err)
	}
	return nil
}

// SendInputReply answers a pending input_request. No reply comes back; the
// kernel resumes the execution that asked for input.
func (c *Connector) SendInputReply(value string) error {
	return c.write(request{ID: string(id.NewRequestID()), Op: opInputReply, Value: value})
}

// Interrupt delivers SIGINT to the kernel's process group. The kernel
// reports the abort through its normal reply and status events.
func (c *Connector) Interrupt() error {
	if err := c.proc.interrupt(); err != nil {
		return errs.Protocolf("interrupt pid %d: %v", c.proc.pid(), err)
	}
	return nil
}

// Kill force-terminates the subprocess and waits for it to be reaped,
// bounded by KillGrace. Idempotent. On grace overrun the SIGKILL has
// already been delivered; only the wait is abandoned.
func (c *Connector) Kill(ctx context.Context) error {
	c.proc.kill()

	grace := time.NewTimer(c.cfg.KillGrace)
	defer grace.Stop()

	select {
	case <-c.proc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
		return errs.Timeoutf("kernel pid %d not reaped after %s", c.proc.pid(), c.cfg.KillGrace)
	}
}

// Events returns the stream of kernel events. It closes after EventClose.
func (c *Connector) Events() <-chan types.Event {
	return c.events
}

// Language reports the language name from the ready message.
func (c *Connector) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// Banner reports the runtime banner from the ready message.
func (c *Connector) Banner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.banner
}

// ExecState reports the last execution state broadcast by the kernel.
// Advisory: it trails the kernel by however much of the stream is unread.
func (c *Connector) ExecState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.execState
}

func (c *Connector) setExecState(state string) {
	c.mu.Lock()
	c.execState = state
	c.mu.Unlock()
}

// Pending reports the number of requests awaiting replies.
func (c *Connector) Pending() int {
	return c.pending.len()
}

// PID returns the subprocess id.
func (c *Connector) PID() int {
	return c.proc.pid()
}
