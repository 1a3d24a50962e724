// Package terminal runs PTY-backed shells for the studio's terminal
// pane.
//
// Each terminal couples a shell subprocess to a pseudo-terminal
// (creack/pty) and buffers its output in a fixed-size ring, so the pane
// polls for fresh bytes instead of holding a stream open. Input, resize,
// and teardown go through the Manager; a reaper notices shells that
// exit on their own and marks them inactive without dropping their
// remaining output.
package terminal
