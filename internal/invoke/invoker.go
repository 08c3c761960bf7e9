package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/facegate/internal/protocol"
	"github.com/mattjoyce/facegate/internal/supervisor"
	"github.com/mattjoyce/facegate/internal/worker"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a worker.
	maxStderrBytes = 64 * 1024

	// maxStdoutBytes caps a worker's result document.
	maxStdoutBytes = 16 * 1024 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Default bounds per kind, used when neither the invocation Spec nor the request sets one.
var DefaultTimeouts = map[protocol.Kind]time.Duration{
	protocol.CheckFace:    15 * time.Second,
	protocol.RegisterFace: 15 * time.Second,
	protocol.Recognize:    15 * time.Second,
	protocol.ChatQuery:    30 * time.Second,
}

// Spec configures how one kind is executed.
type Spec struct {
	Command worker.Command
	Timeout time.Duration
	// Requires names a supervised worker that must be Running for this kind.
	Requires string
}

// StatusReader reports supervised worker health. *supervisor.Supervisor satisfies it.
type StatusReader interface {
	StatusOf(name string) (supervisor.Status, bool)
}

// Invoker maps invocation requests onto transient worker processes.
type Invoker struct {
	specs   map[protocol.Kind]Spec
	workers StatusReader
	logger  *slog.Logger
	grace   time.Duration
}

// New creates an Invoker. workers may be nil when no kind declares Requires.
func New(specs map[protocol.Kind]Spec, workers StatusReader, logger *slog.Logger) *Invoker {
	copied := make(map[protocol.Kind]Spec, len(specs))
	for k, s := range specs {
		copied[k] = s
	}
	return &Invoker{
		specs:   copied,
		workers: workers,
		logger:  logger.With("component", "invoker"),
		grace:   terminationGracePeriod,
	}
}

// Invoke runs req to completion and returns its typed result. Every error is
// a *protocol.Failure.
func (inv *Invoker) Invoke(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	if !req.Kind.Valid() {
		return nil, protocol.Fail(protocol.ValidationError, fmt.Sprintf("unknown invocation kind %q", req.Kind))
	}
	if req.Kind == protocol.RegisterFace && req.Name == "" {
		return nil, protocol.Fail(protocol.ValidationError, "registration requires a name")
	}

	spec, ok := inv.specs[req.Kind]
	if !ok || spec.Command.Path == "" {
		return nil, protocol.Fail(protocol.ProcessError, fmt.Sprintf("no command configured for %s", req.Kind))
	}

	if spec.Requires != "" {
		if err := inv.checkWorker(spec.Requires); err != nil {
			return nil, err
		}
	}

	timeout := inv.timeoutFor(req, spec)
	logger := inv.logger.With("kind", string(req.Kind))

	cmd := spec.Command
	cmd.Args = append([]string(nil), spec.Command.Args...)
	if req.Kind == protocol.RegisterFace {
		cmd.Args = append(cmd.Args, req.Name)
	}

	stdout := worker.NewCappedBuffer(maxStdoutBytes)
	stderr := worker.NewCappedBuffer(maxStderrBytes)

	logger.Debug("spawning worker", "command", cmd.String(), "timeout", timeout.String(), "payload_bytes", len(req.Payload))
	started := time.Now()

	h, err := worker.Spawn(cmd, stdout, stderr)
	if err != nil {
		logger.Error("failed to spawn worker", "error", err)
		return nil, protocol.Wrap(protocol.ProcessError, err, "spawn failed")
	}
	logger = logger.With("pid", h.PID())

	writeErr := make(chan error, 1)
	go func() {
		defer h.Stdin().Close()
		_, err := h.Stdin().Write(req.Payload)
		writeErr <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		logger.Warn("worker timed out, sending SIGTERM", "timeout", timeout.String())
		h.Terminate(inv.grace)
		logStderr(logger, stderr)
		return nil, protocol.Fail(protocol.Timeout, fmt.Sprintf("invocation exceeded %s", timeout))

	case <-ctx.Done():
		logger.Info("invocation cancelled, terminating worker")
		h.Terminate(inv.grace)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, protocol.Wrap(protocol.Timeout, ctx.Err(), "invocation deadline exceeded")
		}
		return nil, protocol.Wrap(protocol.ProcessError, ctx.Err(), "invocation cancelled")

	case <-h.Done():
	}

	code, werr := h.Wait()
	logger = logger.With("exit_code", code, "duration_ms", time.Since(started).Milliseconds())

	if werr != nil {
		logger.Error("worker wait failed", "error", werr)
		return nil, protocol.Wrap(protocol.ProcessError, werr, "wait failed")
	}
	if code != 0 {
		logger.Warn("worker exited with non-zero status")
		logStderr(logger, stderr)
		return nil, protocol.Fail(protocol.ProcessError, "non-zero exit")
	}
	// A worker may legitimately exit before draining a large payload.
	if err := <-writeErr; err != nil {
		logger.Debug("stdin write incomplete", "error", err)
	}

	if stdout.Truncated() {
		logger.Error("worker output exceeded limit", "limit", maxStdoutBytes)
		return nil, protocol.Fail(protocol.ParseError, "worker output too large")
	}

	res, err := protocol.DecodeResult(req.Kind, stdout.Bytes())
	if err != nil {
		logger.Error("failed to decode worker output", "error", err, "stdout", truncate(stdout.String(), 512))
		return nil, protocol.Wrap(protocol.ParseError, err, "malformed worker output")
	}

	logger.Debug("invocation completed")
	return res, nil
}

func (inv *Invoker) checkWorker(name string) error {
	if inv.workers == nil {
		return protocol.Fail(protocol.WorkerUnavailable, fmt.Sprintf("worker %q is not supervised", name))
	}
	st, ok := inv.workers.StatusOf(name)
	if !ok {
		return protocol.Fail(protocol.WorkerUnavailable, fmt.Sprintf("worker %q is not supervised", name))
	}
	if st != supervisor.StatusRunning {
		return protocol.Fail(protocol.WorkerUnavailable, fmt.Sprintf("worker %q is %s", name, st))
	}
	return nil
}

// timeoutFor picks the request override, then Spec.Timeout, then the kind default.
func (inv *Invoker) timeoutFor(req protocol.Request, spec Spec) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	return DefaultTimeouts[req.Kind]
}

func logStderr(logger *slog.Logger, stderr *worker.CappedBuffer) {
	if s := stderr.String(); s != "" {
		logger.Warn("worker stderr", "stderr", s, "truncated", stderr.Truncated())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
