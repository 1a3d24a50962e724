// Package ws streams kernel session events over WebSocket.
//
// Each connection subscribes to exactly one session and receives its
// ordered event feed as JSON frames. The stream carries everything the
// pipeline emits for that kernel, already transformed for display.
//
// Frames (Server → Client):
//   - iopub: outputs, display data, state changes
//   - stdin: input requests awaiting a reply
//   - ready: kernel finished starting
//   - close: kernel exited, with exit code or signal
//
// Clients send nothing; replies to stdin prompts go through the REST
// input endpoint. When the session closes the server sends a normal
// close frame with reason "session closed".
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, logger, metrics)
//	router.GET("/api/stream/:id", handler.Stream)
package ws
