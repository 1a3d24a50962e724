package kernel

import "encoding/json"

// Wire channels. Every stdout line from a kernel runtime carries exactly
// one message tagged with the channel it belongs to.
const (
	channelShell  = "shell"  // request/reply
	channelIOPub  = "iopub"  // broadcast: streams, display data, state
	channelStdin  = "stdin"  // kernel-initiated input requests
	channelSystem = "system" // runtime lifecycle (ready)
)

// Request ops understood by kernel runtimes.
const (
	opExecute    = "execute"
	opComplete   = "complete"
	opIsComplete = "is_complete"
	opInspect    = "inspect"
	opInputReply = "input_reply"
)

// Message types the client interprets itself. Everything else is forwarded
// untouched.
const (
	typeReady        = "ready"
	typeStatus       = "status"
	typeInputRequest = "input_request"
)

// request is one line written to the kernel's stdin. Fields not used by an
// op are omitted from the wire form.
type request struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Code   string `json:"code,omitempty"`
	Cursor int    `json:"cursor,omitempty"`
	Detail int    `json:"detail,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
	Value  string `json:"value,omitempty"`
}

// message is one line read from the kernel's stdout. Parent correlates a
// reply or side-effect back to the request that caused it, which is what
// lets concurrent requests share one pipe.
type message struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Parent  string          `json:"parent,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// readyContent is the payload of the system/ready message.
type readyContent struct {
	Language string `json:"language"`
	Banner   string `json:"banner"`
}

// statusContent is the payload of iopub/status messages.
type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

// executeReply is the shell reply payload for execute requests.
type executeReply struct {
	Status         string `json:"status"`
	ExecutionCount int64  `json:"execution_count"`
}

// completeReply is the shell reply payload for complete requests.
type completeReply struct {
	Matches     []string `json:"matches"`
	CursorStart int      `json:"cursor_start"`
	CursorEnd   int      `json:"cursor_end"`
	Status      string   `json:"status"`
}

// isCompleteReply is the shell reply payload for is_complete requests.
type isCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent"`
}

// inspectReply is the shell reply payload for inspect requests.
type inspectReply struct {
	Found bool            `json:"found"`
	Data  json.RawMessage `json:"data"`
}
