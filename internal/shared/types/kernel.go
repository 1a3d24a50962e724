package types

import (
	"encoding/json"
	"time"
)

// SessionState tracks one managed kernel through its lifetime.
type SessionState string

const (
	StateCreating SessionState = "creating"
	StateReady    SessionState = "ready"
	StateBusy     SessionState = "busy"
	StateClosing  SessionState = "closing"
	StateClosed   SessionState = "closed"
	StateFailed   SessionState = "failed"
)

// LaunchOptions is the immutable configuration a kernel is created with.
type LaunchOptions struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// ExecuteResult is the reply to an execute request. Display output travels
// separately on the event stream; the reply never embeds artifacts.
type ExecuteResult struct {
	Status         string          `json:"status"` // ok | error | aborted
	ExecutionCount int64           `json:"execution_count,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
}

// Completion is the reply to an autocomplete request.
type Completion struct {
	Matches     []string `json:"matches"`
	CursorStart int      `json:"cursor_start"`
	CursorEnd   int      `json:"cursor_end"`
	Status      string   `json:"status"`
}

// Completeness is the reply to an is-complete probe used by the GUI to
// decide between "run" and "continue editing".
type Completeness struct {
	Status string `json:"status"` // complete | incomplete | invalid | unknown
	Indent string `json:"indent,omitempty"`
}

// Inspection is the reply to an introspection request at a cursor position.
type Inspection struct {
	Found bool            `json:"found"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// KernelStatus is a local snapshot of a client; it involves no wire call.
type KernelStatus struct {
	State          SessionState `json:"state"`
	ExecutionState string       `json:"execution_state"` // starting | idle | busy
	PID            int          `json:"pid,omitempty"`
	Pending        int          `json:"pending"`
	Language       string       `json:"language,omitempty"`
	Banner         string       `json:"banner,omitempty"`
}

// ExecStats summarizes recent execution durations for one session.
type ExecStats struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P95Ms    float64 `json:"p95_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// KernelInfo is the session-table view returned by list and status calls.
type KernelInfo struct {
	ID        string        `json:"id"`
	State     SessionState  `json:"state"`
	Options   LaunchOptions `json:"options"`
	CreatedAt time.Time     `json:"created_at"`
	Stats     *ExecStats    `json:"stats,omitempty"`
}
