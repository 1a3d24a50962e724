package kernel

import (
	"context"

	"github.com/bytedance/sonic"

	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// Client is a live connection to one kernel runtime. Implementations are
// safe for concurrent use: requests correlate by id, not by turn-taking,
// so callers never queue behind each other.
type Client interface {
	// Execute runs code. Display output and streams travel on the event
	// channel; the reply only carries the outcome.
	Execute(ctx context.Context, code string, hidden bool) (types.ExecuteResult, error)

	// Complete returns completion candidates at a cursor offset.
	Complete(ctx context.Context, code string, cursor int) (types.Completion, error)

	// IsComplete reports whether code forms a complete statement.
	IsComplete(ctx context.Context, code string) (types.Completeness, error)

	// Inspect returns introspection for the object under the cursor.
	Inspect(ctx context.Context, code string, cursor, detail int) (types.Inspection, error)

	// SendInputReply answers a pending input_request event.
	SendInputReply(value string) error

	// Interrupt asks the runtime to abort in-flight work.
	Interrupt() error

	// Kill force-terminates the runtime. Idempotent.
	Kill(ctx context.Context) error

	// Events returns the runtime's event stream. The stream must be
	// drained until it closes; EventClose is always the final event.
	Events() <-chan types.Event

	Language() string
	Banner() string
	ExecState() string
	Pending() int
	PID() int
}

// Factory launches kernel clients from immutable options.
type Factory interface {
	Launch(ctx context.Context, opts types.LaunchOptions) (Client, error)
}

var _ Client = (*Connector)(nil)

// Execute runs code in the kernel and waits for the reply.
func (c *Connector) Execute(ctx context.Context, code string, hidden bool) (types.ExecuteResult, error) {
	msg, err := c.Do(ctx, request{Op: opExecute, Code: code, Hidden: hidden})
	if err != nil {
		return types.ExecuteResult{}, err
	}

	var body executeReply
	if err := sonic.Unmarshal(msg.Content, &body); err != nil {
		return types.ExecuteResult{}, errs.Protocolf("decode execute reply: %v", err)
	}
	return types.ExecuteResult{
		Status:         body.Status,
		ExecutionCount: body.ExecutionCount,
		Content:        msg.Content,
	}, nil
}

// Complete returns completion candidates at a cursor offset.
func (c *Connector) Complete(ctx context.Context, code string, cursor int) (types.Completion, error) {
	msg, err := c.Do(ctx, request{Op: opComplete, Code: code, Cursor: cursor})
	if err != nil {
		return types.Completion{}, err
	}

	var body completeReply
	if err := sonic.Unmarshal(msg.Content, &body); err != nil {
		return types.Completion{}, errs.Protocolf("decode complete reply: %v", err)
	}
	return types.Completion{
		Matches:     body.Matches,
		CursorStart: body.CursorStart,
		CursorEnd:   body.CursorEnd,
		Status:      body.Status,
	}, nil
}

// IsComplete reports whether code forms a complete statement.
func (c *Connector) IsComplete(ctx context.Context, code string) (types.Completeness, error) {
	msg, err := c.Do(ctx, request{Op: opIsComplete, Code: code})
	if err != nil {
		return types.Completeness{}, err
	}

	var body isCompleteReply
	if err := sonic.Unmarshal(msg.Content, &body); err != nil {
		return types.Completeness{}, errs.Protocolf("decode is_complete reply: %v", err)
	}
	return types.Completeness{Status: body.Status, Indent: body.Indent}, nil
}

// Inspect returns introspection for the object under the cursor.
func (c *Connector) Inspect(ctx context.Context, code string, cursor, detail int) (types.Inspection, error) {
	msg, err := c.Do(ctx, request{Op: opInspect, Code: code, Cursor: cursor, Detail: detail})
	if err != nil {
		return types.Inspection{}, err
	}

	var body inspectReply
	if err := sonic.Unmarshal(msg.Content, &body); err != nil {
		return types.Inspection{}, errs.Protocolf("decode inspect reply: %v", err)
	}
	return types.Inspection{Found: body.Found, Data: body.Data}, nil
}
