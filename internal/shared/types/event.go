package types

import "encoding/json"

// EventKind tags the union of event shapes a kernel session emits.
type EventKind string

const (
	// EventReady signals the kernel finished starting and accepts requests.
	EventReady EventKind = "ready"

	// EventShell carries a reply on the request/response channel.
	EventShell EventKind = "shell"

	// EventIOPub carries a broadcast message (streams, display data, state).
	EventIOPub EventKind = "iopub"

	// EventStdin carries a message on the input channel.
	EventStdin EventKind = "stdin"

	// EventInputRequest is a stdin message asking the user for input.
	EventInputRequest EventKind = "input_request"

	// EventGeneric carries an out-of-band message with a source tag.
	EventGeneric EventKind = "event"

	// EventError reports a kernel-side runtime or protocol error. These
	// are delivered on the stream, never as call rejections.
	EventError EventKind = "error"

	// EventClose reports subprocess exit. Always the final event.
	EventClose EventKind = "close"
)

// Event is the single typed message every kernel backend emits and every
// subscriber consumes. Payload holds the raw wire message so the transform
// pipeline can rewrite display fields without re-marshalling.
type Event struct {
	Kind     EventKind       `json:"kind"`
	KernelID string          `json:"kernel_id,omitempty"`
	Type     string          `json:"type,omitempty"`   // wire message type (execute_reply, display_data, ...)
	Parent   string          `json:"parent,omitempty"` // request id this message answers
	Source   string          `json:"source,omitempty"` // origin tag for EventGeneric
	Payload  json.RawMessage `json:"payload,omitempty"`
	Message  string          `json:"message,omitempty"` // human-readable text for EventError
	ExitCode int             `json:"exit_code,omitempty"`
	Signal   string          `json:"signal,omitempty"`
}
