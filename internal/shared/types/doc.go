// Package types provides shared data structures for the Rodeo backend.
//
// This package defines the types that cross package boundaries, keeping
// the kernel, session, pipeline, and API layers decoupled.
//
// Core Types:
//   - Event: tagged-union message emitted by every kernel backend
//   - LaunchOptions: immutable kernel launch configuration
//   - SessionState: session lifecycle enum
//   - ExecuteResult, Completion, Completeness, Inspection: reply payloads
//   - KernelStatus, KernelInfo, ExecStats: status and listing views
//
// Example Usage:
//
//	ev := types.Event{
//	    Kind:     types.EventIOPub,
//	    KernelID: string(id.NewKernelID()),
//	    Type:     "display_data",
//	    Payload:  raw,
//	}
package types
