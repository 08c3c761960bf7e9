package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait keeps copying output after the process
// exits, in case a grandchild inherited the pipes.
const waitDelay = 2 * time.Second

// Command describes how to launch a worker process.
type Command struct {
	Path string
	Args []string
	// Env entries are appended to the gateway's own environment.
	Env []string
	Dir string
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

// Handle wraps one running worker process: its stdin pipe, exit status and
// termination. The process is reaped by a background goroutine started in
// Spawn, so callers observe exit through Done rather than calling Wait on
// the underlying exec.Cmd.
type Handle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// Spawn starts the command with stdout and stderr copied into the given
// writers (nil discards). Stdin is always a pipe owned by the caller.
func Spawn(c Command, stdout, stderr io.Writer) (*Handle, error) {
	if c.Path == "" {
		return nil, errors.New("worker command is empty")
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	h := &Handle{
		cmd:      cmd,
		stdin:    stdin,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.waitErr = err
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		h.exitCode = 0
	case errors.As(err, &exitErr):
		h.exitCode = exitErr.ExitCode()
	}
	h.mu.Unlock()

	close(h.done)
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Stdin returns the write side of the process's input stream. Closing it
// signals end-of-input.
func (h *Handle) Stdin() io.WriteCloser {
	return h.stdin
}

// Done is closed once the process has exited and its output is fully copied.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has terminated.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status after Done is closed. It is -1 while the
// process runs, and also when it was killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Wait blocks until exit and returns the exit code plus any error that was
// not a plain non-zero exit (e.g. an I/O copy failure).
func (h *Handle) Wait() (int, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()

	var exitErr *exec.ExitError
	if h.waitErr != nil && !errors.As(h.waitErr, &exitErr) {
		return h.exitCode, h.waitErr
	}
	return h.exitCode, nil
}

// Terminate sends SIGTERM, waits up to grace for exit, then sends SIGKILL.
// It returns once the process has been reaped.
func (h *Handle) Terminate(grace time.Duration) {
	if h.Exited() {
		return
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return
	case <-timer.C:
	}

	_ = h.cmd.Process.Kill()
	<-h.done
}
