package kernel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// proc is a thin handle on a spawned kernel subprocess. Pipe I/O belongs to
// the Connector; proc only spawns, signals, and reaps.
type proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	pgid   int

	// done closes after the process is reaped; exitCode and signal are
	// written before the close and must not be read earlier.
	done     chan struct{}
	exitCode int
	signal   string

	killOnce sync.Once
}

// spawn starts the kernel subprocess in its own process group so interrupts
// reach the kernel and its children without touching the backend.
func spawn(opts types.LaunchOptions) (*proc, error) {
	if opts.Cmd == "" {
		return nil, errs.InvalidArgumentf("kernel command is empty")
	}

	cmd := exec.Command(opts.Cmd, opts.Args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = os.Environ()
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Constructionf("stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Constructionf("stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Constructionf("stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.Constructionf("start %s: %v", opts.Cmd, err)
	}

	return &proc{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		pgid:   cmd.Process.Pid, // group leader after Setpgid
		done:   make(chan struct{}),
	}, nil
}

// pid returns the OS process id.
func (p *proc) pid() int {
	return p.cmd.Process.Pid
}

// interrupt delivers SIGINT to the process group.
func (p *proc) interrupt() error {
	return syscall.Kill(-p.pgid, syscall.SIGINT)
}

// kill force-terminates the process group. Idempotent; the error from a
// group that already exited is ignored.
func (p *proc) kill() {
	p.killOnce.Do(func() {
		p.stdin.Close()
		_ = syscall.Kill(-p.pgid, syscall.SIGKILL)
	})
}

// reap waits for the process and records how it ended. Callers must ensure
// all pipe reads have finished first, otherwise Wait discards buffered
// output.
func (p *proc) reap() {
	err := p.cmd.Wait()
	p.exitCode, p.signal = exitStatus(err, p.cmd.ProcessState)
	close(p.done)
}

// exitStatus extracts the exit code and terminating signal, if any.
func exitStatus(err error, state *os.ProcessState) (int, string) {
	if err == nil {
		if state != nil {
			return state.ExitCode(), ""
		}
		return 0, ""
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, ws.Signal().String()
		}
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}
