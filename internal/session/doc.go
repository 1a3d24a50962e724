// Package session owns the kernel session table.
//
// A session id is registered before its subprocess exists; readiness is
// a separate one-shot the table entry carries. That split is what makes
// the awkward interleavings safe: kill right after create waits for the
// spawn to settle, a construction failure removes the entry before any
// waiter sees the error, and an unsolicited subprocess exit reaches
// subscribers before the entry disappears.
//
// Each ready session gets one pump goroutine that stamps, transforms,
// and fans out its events in arrival order. Operations on one session
// are deliberately not serialized against each other; replies correlate
// by request id at the wire layer.
package session
