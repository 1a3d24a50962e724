package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// Info is the wire representation of one terminal.
type Info struct {
	ID        string    `json:"id"`
	Shell     string    `json:"shell"`
	Cwd       string    `json:"cwd"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Active    bool      `json:"active"`
}

// Terminal is one PTY-backed shell. Dimensions and liveness are guarded
// by mu; the ring has its own lock so the PTY reader never contends with
// status queries.
type Terminal struct {
	ID        string
	Shell     string
	Cwd       string
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File
	out  *ring

	mu     sync.Mutex
	cols   int
	rows   int
	closed bool
}

func (t *Terminal) info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid := 0
	if t.cmd.Process != nil {
		pid = t.cmd.Process.Pid
	}
	return Info{
		ID:        t.ID,
		Shell:     t.Shell,
		Cwd:       t.Cwd,
		Cols:      t.cols,
		Rows:      t.rows,
		PID:       pid,
		StartedAt: t.StartedAt,
		Active:    !t.closed,
	}
}

// markClosed flips closed and reports whether this call was the one
// that did it.
func (t *Terminal) markClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	return true
}

func (t *Terminal) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
