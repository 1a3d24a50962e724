package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/id"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

const eventBuffer = 256

// jsKeywords pad completion with language words goja itself cannot list.
var jsKeywords = []string{
	"break", "case", "catch", "const", "continue", "default", "delete",
	"do", "else", "false", "finally", "for", "function", "if", "in",
	"instanceof", "let", "new", "null", "return", "switch", "this",
	"throw", "true", "try", "typeof", "undefined", "var", "void", "while",
}

// wireMessage mirrors the subprocess wire shape so embedded events look
// identical to subprocess ones downstream.
type wireMessage struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Parent  string          `json:"parent,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Runtime is an in-process JavaScript kernel backed by goja. It satisfies
// kernel.Client so sessions cannot tell it apart from a subprocess.
//
// goja VMs are single-threaded: executions serialize on vmMu while the
// quick ops (complete, inspect, is_complete) work on source text or take
// the same lock only briefly.
type Runtime struct {
	vm     *goja.Runtime
	logger *zap.Logger

	vmMu sync.Mutex

	events chan types.Event

	// currentParent tags console/display events with the request that
	// produced them. Guarded by vmMu.
	currentParent string

	execCount int64
	inflight  int32

	stateMu   sync.RWMutex
	execState string

	killOnce sync.Once
	killed   bool // guarded by vmMu
}

var _ kernel.Client = (*Runtime)(nil)

// Factory returns the BuiltinFunc serving "builtin:js".
func Factory(logger *zap.Logger) kernel.BuiltinFunc {
	return func(ctx context.Context, opts types.LaunchOptions) (kernel.Client, error) {
		switch strings.TrimPrefix(opts.Cmd, kernel.BuiltinPrefix) {
		case "js", "javascript":
			return New(logger)
		default:
			return nil, errs.InvalidArgumentf("unknown builtin runtime %q", opts.Cmd)
		}
	}
}

// New creates a ready runtime. The ready event is already buffered when
// New returns, so subscribers observe the same stream shape as with
// subprocess kernels.
func New(logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runtime{
		vm:        goja.New(),
		logger:    logger,
		events:    make(chan types.Event, eventBuffer),
		execState: "idle",
	}
	if err := r.setupGlobals(); err != nil {
		return nil, errs.Constructionf("setup globals: %v", err)
	}

	r.emit(types.EventReady, "system", "ready", "", map[string]string{
		"language": r.Language(),
		"banner":   r.Banner(),
	})
	return r, nil
}

// setupGlobals removes node-isms and installs console and display.
func (r *Runtime) setupGlobals() error {
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())
	r.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	r.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})

	console := r.vm.NewObject()
	if err := console.Set("log", r.makeConsoleFunc("stdout")); err != nil {
		return err
	}
	if err := console.Set("info", r.makeConsoleFunc("stdout")); err != nil {
		return err
	}
	if err := console.Set("warn", r.makeConsoleFunc("stderr")); err != nil {
		return err
	}
	if err := console.Set("error", r.makeConsoleFunc("stderr")); err != nil {
		return err
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	// display({"text/html": "<b>hi</b>"}) publishes a display_data event,
	// which is what routes rich output into the artifact pipeline.
	return r.vm.Set("display", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		data, ok := call.Arguments[0].Export().(map[string]interface{})
		if !ok {
			return goja.Undefined()
		}
		r.emit(types.EventIOPub, "iopub", "display_data", r.currentParent, map[string]interface{}{
			"data":     data,
			"metadata": map[string]interface{}{},
		})
		return goja.Undefined()
	})
}

// makeConsoleFunc streams console output as iopub stream events.
func (r *Runtime) makeConsoleFunc(stream string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		r.emit(types.EventIOPub, "iopub", "stream", r.currentParent, map[string]string{
			"name": stream,
			"text": strings.Join(parts, " ") + "\n",
		})
		return goja.Undefined()
	}
}

// emit builds the wire-shaped payload and sends the event.
func (r *Runtime) emit(kind types.EventKind, channel, typ, parent string, content interface{}) {
	raw, err := sonic.Marshal(content)
	if err != nil {
		r.logger.Warn("encode embedded event", zap.Error(err))
		return
	}
	payload, err := sonic.Marshal(wireMessage{Channel: channel, Type: typ, Parent: parent, Content: raw})
	if err != nil {
		r.logger.Warn("encode embedded event", zap.Error(err))
		return
	}
	r.events <- types.Event{Kind: kind, Type: typ, Parent: parent, Payload: payload}
}

func (r *Runtime) setExecState(state string) {
	r.stateMu.Lock()
	r.execState = state
	r.stateMu.Unlock()
}

// Execute runs code on the VM. JavaScript exceptions are results, not Go
// errors: the reply status is "error" and an iopub error event streams the
// details, exactly like a subprocess kernel.
func (r *Runtime) Execute(ctx context.Context, code string, hidden bool) (types.ExecuteResult, error) {
	atomic.AddInt32(&r.inflight, 1)
	defer atomic.AddInt32(&r.inflight, -1)

	r.vmMu.Lock()
	defer r.vmMu.Unlock()

	if r.killed {
		return types.ExecuteResult{}, errs.Protocolf("kernel closed")
	}

	rid := string(id.NewRequestID())
	r.currentParent = rid
	defer func() { r.currentParent = "" }()

	r.setExecState("busy")
	r.emit(types.EventIOPub, "iopub", "status", rid, map[string]string{"execution_state": "busy"})
	defer func() {
		r.setExecState("idle")
		r.emit(types.EventIOPub, "iopub", "status", rid, map[string]string{"execution_state": "idle"})
	}()

	r.vm.ClearInterrupt()
	execDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-execDone:
		}
	}()

	val, err := r.vm.RunString(code)
	close(execDone)

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return r.reply(rid, "aborted", hidden), nil
		}

		var exc *goja.Exception
		if errors.As(err, &exc) {
			r.emit(types.EventIOPub, "iopub", "error", rid, map[string]interface{}{
				"ename":     "Error",
				"evalue":    exc.Value().String(),
				"traceback": strings.Split(exc.String(), "\n"),
			})
			return r.reply(rid, "error", hidden), nil
		}

		// Parse errors and the like.
		r.emit(types.EventIOPub, "iopub", "error", rid, map[string]interface{}{
			"ename":     "SyntaxError",
			"evalue":    err.Error(),
			"traceback": []string{err.Error()},
		})
		return r.reply(rid, "error", hidden), nil
	}

	if !hidden && val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		r.emit(types.EventIOPub, "iopub", "execute_result", rid, map[string]interface{}{
			"data":            map[string]string{"text/plain": renderValue(val)},
			"execution_count": atomic.LoadInt64(&r.execCount) + 1,
		})
	}

	return r.reply(rid, "ok", hidden), nil
}

// reply assembles the ExecuteResult and bumps the visible counter.
func (r *Runtime) reply(rid, status string, hidden bool) types.ExecuteResult {
	count := atomic.LoadInt64(&r.execCount)
	if status == "ok" && !hidden {
		count = atomic.AddInt64(&r.execCount, 1)
	}

	content, _ := sonic.Marshal(map[string]interface{}{
		"status":          status,
		"execution_count": count,
	})
	r.emit(types.EventShell, "shell", "execute_reply", rid, json.RawMessage(content))
	return types.ExecuteResult{Status: status, ExecutionCount: count, Content: content}
}

// renderValue formats an expression value for text/plain display.
func renderValue(val goja.Value) string {
	exported := val.Export()
	switch v := exported.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		if text, err := sonic.MarshalString(v); err == nil {
			return text
		}
		return val.String()
	}
}

// Complete matches globals and keywords against the identifier ending at
// the cursor.
func (r *Runtime) Complete(ctx context.Context, code string, cursor int) (types.Completion, error) {
	token, start := tokenAt(code, cursor)

	matches := []string{}
	if token != "" {
		seen := make(map[string]bool)

		r.vmMu.Lock()
		if !r.killed {
			for _, key := range r.vm.GlobalObject().Keys() {
				if strings.HasPrefix(key, token) && !seen[key] {
					seen[key] = true
					matches = append(matches, key)
				}
			}
		}
		r.vmMu.Unlock()

		for _, kw := range jsKeywords {
			if strings.HasPrefix(kw, token) && !seen[kw] {
				seen[kw] = true
				matches = append(matches, kw)
			}
		}
	}

	end := cursor
	if end > len(code) {
		end = len(code)
	}
	return types.Completion{
		Matches:     matches,
		CursorStart: start,
		CursorEnd:   end,
		Status:      "ok",
	}, nil
}

// IsComplete compiles the source and classifies parse failures: an error
// at end of input means "keep typing", anything else is invalid.
func (r *Runtime) IsComplete(ctx context.Context, code string) (types.Completeness, error) {
	if strings.TrimSpace(code) == "" {
		return types.Completeness{Status: "complete"}, nil
	}

	if _, err := goja.Compile("<input>", code, false); err != nil {
		if strings.Contains(err.Error(), "Unexpected end of input") {
			return types.Completeness{Status: "incomplete", Indent: "  "}, nil
		}
		return types.Completeness{Status: "invalid"}, nil
	}
	return types.Completeness{Status: "complete"}, nil
}

// Inspect looks up the identifier under the cursor among the globals.
func (r *Runtime) Inspect(ctx context.Context, code string, cursor, detail int) (types.Inspection, error) {
	token, _ := tokenAt(code, cursor)
	if token == "" {
		return types.Inspection{Found: false}, nil
	}

	r.vmMu.Lock()
	defer r.vmMu.Unlock()
	if r.killed {
		return types.Inspection{}, errs.Protocolf("kernel closed")
	}

	val := r.vm.GlobalObject().Get(token)
	if val == nil || goja.IsUndefined(val) {
		return types.Inspection{Found: false}, nil
	}

	data, err := sonic.Marshal(map[string]string{
		"text/plain": renderValue(val),
	})
	if err != nil {
		return types.Inspection{}, errs.Protocolf("encode inspection: %v", err)
	}
	return types.Inspection{Found: true, Data: data}, nil
}

// SendInputReply is a no-op: the embedded runtime never requests input.
func (r *Runtime) SendInputReply(value string) error {
	return nil
}

// Interrupt aborts the running script, if any. The execute reply reports
// status "aborted".
func (r *Runtime) Interrupt() error {
	r.vm.Interrupt("interrupted")
	return nil
}

// Kill aborts any running script, emits the final close event, and shuts
// the stream. Idempotent.
func (r *Runtime) Kill(ctx context.Context) error {
	r.killOnce.Do(func() {
		r.vm.Interrupt("kernel killed")

		r.vmMu.Lock()
		r.killed = true
		r.emit(types.EventClose, "system", "close", "", map[string]int{"exit_code": 0})
		close(r.events)
		r.vmMu.Unlock()
	})
	return nil
}

// Events returns the runtime's event stream.
func (r *Runtime) Events() <-chan types.Event {
	return r.events
}

// Language reports the runtime language.
func (r *Runtime) Language() string { return "javascript" }

// Banner reports the runtime banner.
func (r *Runtime) Banner() string { return "JavaScript (goja, in-process)" }

// ExecState reports idle or busy.
func (r *Runtime) ExecState() string {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.execState
}

// Pending reports in-flight executions.
func (r *Runtime) Pending() int {
	return int(atomic.LoadInt32(&r.inflight))
}

// PID reports 0: there is no subprocess.
func (r *Runtime) PID() int { return 0 }

// tokenAt returns the identifier ending at cursor and its start offset.
func tokenAt(code string, cursor int) (string, int) {
	if cursor > len(code) {
		cursor = len(code)
	}
	if cursor < 0 {
		cursor = 0
	}
	start := cursor
	for start > 0 && isIdentChar(code[start-1]) {
		start--
	}
	return code[start:cursor], start
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
