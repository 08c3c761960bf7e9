package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/facegate/internal/events"
	"github.com/mattjoyce/facegate/internal/worker"
)

const (
	// DefaultBackoff is the delay between a worker exit and its restart.
	DefaultBackoff = 5 * time.Second

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("supervisor stopped")

// Status is the lifecycle state of a supervised worker.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// Breaker lengthens the restart delay for a worker that keeps crashing.
// It never stops restarts. A zero Threshold disables it.
type Breaker struct {
	// Threshold is the number of consecutive short-lived runs that trips the breaker.
	Threshold int
	// Cooldown replaces the backoff while the breaker is tripped.
	Cooldown time.Duration
	// StableAfter is the uptime after which a run no longer counts as a crash loop.
	StableAfter time.Duration
}

// Spec defines one long-running worker. Immutable once passed to Start.
type Spec struct {
	Name    string
	Command worker.Command
	Backoff time.Duration
	Breaker Breaker
}

// WorkerInfo is a point-in-time snapshot of one worker.
type WorkerInfo struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Publisher receives worker transition events.
type Publisher interface {
	Publish(eventType string, data any)
}

// entry is the supervisor-owned record for one worker. Only the worker's
// own run loop mutates it, always under Supervisor.mu.
type entry struct {
	spec      Spec
	status    Status
	pid       int
	exitCode  *int
	restarts  int
	startedAt time.Time
}

// Supervisor keeps a set of named long-running workers alive, restarting
// each one after its backoff whenever it exits.
type Supervisor struct {
	logger *slog.Logger
	events Publisher

	mu      sync.RWMutex
	workers map[string]*entry
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor. events may be nil.
func New(logger *slog.Logger, events Publisher) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:  logger.With("component", "supervisor"),
		events:  events,
		workers: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers spec under spec.Name and launches it. The worker is
// restarted indefinitely until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context, spec Spec) error {
	if spec.Name == "" {
		return errors.New("worker name is empty")
	}
	if spec.Command.Path == "" {
		return fmt.Errorf("worker %q: command is empty", spec.Name)
	}
	if spec.Backoff <= 0 {
		spec.Backoff = DefaultBackoff
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, exists := s.workers[spec.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("worker %q already registered", spec.Name)
	}
	e := &entry{spec: spec, status: StatusStarting}
	s.workers[spec.Name] = e
	s.wg.Add(1)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)

	go func() {
		defer s.wg.Done()
		defer stop()
		defer cancel()
		s.run(runCtx, e)
	}()
	return nil
}

// StatusOf returns the current status of the named worker.
func (s *Supervisor) StatusOf(name string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workers[name]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Snapshot returns every worker's state, sorted by name.
func (s *Supervisor) Snapshot() []WorkerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(s.workers))
	for _, e := range s.workers {
		info := WorkerInfo{
			Name:      e.spec.Name,
			Status:    e.status,
			PID:       e.pid,
			Restarts:  e.restarts,
			StartedAt: e.startedAt,
		}
		if e.exitCode != nil {
			code := *e.exitCode
			info.ExitCode = &code
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop terminates every worker, suppresses further restarts and waits for
// all run loops to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("supervisor stopped")
}

// run is the single writer for e.
func (s *Supervisor) run(ctx context.Context, e *entry) {
	logger := s.logger.With("worker", e.spec.Name)
	consecutive := 0

	s.transition(e, StatusStarting, 0, nil)
	for {
		logger.Info("starting worker", "command", e.spec.Command.String())

		startedAt := time.Now()
		h, err := worker.Spawn(e.spec.Command,
			newLineWriter(logger, "stdout"),
			newLineWriter(logger, "stderr"),
		)
		if err != nil {
			logger.Error("failed to start worker", "error", err)
		} else {
			s.setRunning(e, h.PID(), startedAt)
			logger.Info("worker running", "pid", h.PID())
			// Long-running workers take no input.
			_ = h.Stdin().Close()

			select {
			case <-h.Done():
			case <-ctx.Done():
				logger.Info("stopping worker", "pid", h.PID())
				h.Terminate(terminationGracePeriod)
				code := h.ExitCode()
				s.transition(e, StatusExited, 0, &code)
				return
			}

			code := h.ExitCode()
			s.transition(e, StatusExited, 0, &code)
			logger.Warn("worker exited", "pid", h.PID(), "exit_code", code, "uptime", time.Since(startedAt).String())
		}

		delay, tripped := s.restartDelay(e.spec, &consecutive, time.Since(startedAt))
		if tripped {
			logger.Warn("worker crash loop detected, cooling down", "consecutive_crashes", consecutive, "cooldown", delay.String())
		}

		s.mu.Lock()
		e.restarts++
		s.mu.Unlock()
		s.transition(e, StatusStarting, 0, nil)
		logger.Info("restart scheduled", "backoff", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			e.status = StatusExited
			s.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

// restartDelay applies the backoff and breaker policy for one exit.
func (s *Supervisor) restartDelay(spec Spec, consecutive *int, uptime time.Duration) (time.Duration, bool) {
	b := spec.Breaker
	if b.Threshold <= 0 {
		return spec.Backoff, false
	}
	if b.StableAfter > 0 && uptime >= b.StableAfter {
		*consecutive = 1
	} else {
		*consecutive++
	}
	if *consecutive >= b.Threshold && b.Cooldown > 0 {
		return b.Cooldown, true
	}
	return spec.Backoff, false
}

func (s *Supervisor) setRunning(e *entry, pid int, startedAt time.Time) {
	s.mu.Lock()
	e.startedAt = startedAt
	s.mu.Unlock()
	s.transition(e, StatusRunning, pid, nil)
}

func (s *Supervisor) transition(e *entry, status Status, pid int, exitCode *int) {
	s.mu.Lock()
	e.status = status
	switch status {
	case StatusRunning:
		e.pid = pid
		e.exitCode = nil
	case StatusExited:
		e.pid = 0
		e.exitCode = exitCode
	}
	name, restarts := e.spec.Name, e.restarts
	s.mu.Unlock()

	if s.events == nil {
		return
	}
	data := map[string]any{"worker": name, "restarts": restarts}
	var topic string
	switch status {
	case StatusStarting:
		topic = events.WorkerStarting
	case StatusRunning:
		topic = events.WorkerRunning
		data["pid"] = pid
	case StatusExited:
		topic = events.WorkerExited
		if exitCode != nil {
			data["exit_code"] = *exitCode
		}
	}
	s.events.Publish(topic, data)
}
