package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/facegate/internal/events"
	"github.com/mattjoyce/facegate/internal/protocol"
)

// ChatPolicy decides what happens to a chat query that arrives while one is in flight.
type ChatPolicy string

const (
	// ChatDrop discards the new query.
	ChatDrop ChatPolicy = "drop"
	// ChatReplace keeps the newest query pending and runs it after the current one.
	ChatReplace ChatPolicy = "replace"
)

// Config holds per-session protocol settings.
type Config struct {
	PingInterval time.Duration
	PongGrace    time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	MaxMessage   int64
	ChatPolicy   ChatPolicy

	// Zero leaves the bound to the invoker's per-kind default.
	RecognizeTimeout time.Duration
	ChatTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongGrace <= 0 {
		c.PongGrace = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = 50 << 20
	}
	if c.ChatPolicy == "" {
		c.ChatPolicy = ChatDrop
	}
	return c
}

// Manager owns every open session and routes invocation results back to the
// session that asked for them.
type Manager struct {
	cfg      Config
	invoker  Invoker
	events   Publisher
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// ctx bounds in-flight invocations to the manager's lifetime, not a session's.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager. events may be nil.
func NewManager(cfg Config, invoker Invoker, events Publisher, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg.withDefaults(),
		invoker: invoker,
		events:  events,
		logger:  logger.With("component", "sessions"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session.
func (m *Manager) Open(remote string) *Session {
	id := uuid.NewString()
	s := newSession(id, m.cfg.SendBuffer, m.logger.With(slog.String("session_id", id)))

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.logger.Info("session opened", "remote", remote)
	m.publish(events.SessionOpened, map[string]any{"session_id": id, "remote": remote})
	return s
}

// Close tears down the session. Any in-flight invocation keeps running but
// its result is discarded.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	st := s.State()
	s.close()
	s.logger.Info("session closed", "state", st.String(), "duration", time.Since(s.openedAt).String())
	m.publish(events.SessionClosed, map[string]any{"session_id": id})
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Handle processes one raw client frame.
func (m *Manager) Handle(s *Session, raw []byte) {
	if m.ctx.Err() != nil {
		return
	}
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("invalid client message", "error", err)
		s.send(errorMessage("Invalid message format"))
		return
	}

	switch msg.Type {
	case TypeRecognize:
		m.recognize(s, msg.Image)
	case TypeChatQuery:
		m.chat(s, msg.Message)
	default:
		s.logger.Warn("unknown message type", "type", msg.Type)
	}
}

func (m *Manager) recognize(s *Session, image string) {
	if strings.TrimSpace(image) == "" {
		s.send(errorMessage("No image provided"))
		return
	}
	if !s.tryAcquire(AwaitingRecognition) {
		s.logger.Debug("recognition in flight, dropping frame")
		return
	}

	req := protocol.Request{
		Kind:    protocol.Recognize,
		Payload: []byte(protocol.StripDataURL(image)),
		Timeout: m.cfg.RecognizeTimeout,
	}
	id := s.id

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res, err := m.invoker.Invoke(m.ctx, req)

		var out any
		if err != nil {
			m.logger.Warn("recognition failed", "session_id", id, "error", err)
			out = errorMessage(failureText(protocol.Recognize, err))
		} else if rec, ok := res.(protocol.Recognition); ok {
			out = recognitionResult(rec.Faces)
		} else {
			out = errorMessage(failureText(protocol.Recognize, unexpected(res)))
		}
		m.complete(id, AwaitingRecognition, out)
	}()
}

func (m *Manager) chat(s *Session, query string) {
	if strings.TrimSpace(query) == "" {
		s.send(errorMessage("No message provided"))
		return
	}
	if !s.tryAcquire(AwaitingChat) {
		if m.cfg.ChatPolicy == ChatReplace {
			replaced := s.queueChat(query)
			s.logger.Debug("chat in flight, query queued", "replaced", replaced)
			return
		}
		s.logger.Debug("chat in flight, dropping query")
		return
	}

	s.send(chatThinking())
	id := s.id

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		next := &query
		for next != nil {
			next = m.runChat(id, *next)
		}
	}()
}

// runChat performs one chat invocation and returns the queued follow-up, if any.
func (m *Manager) runChat(id, query string) *string {
	res, err := m.invoker.Invoke(m.ctx, protocol.Request{
		Kind:    protocol.ChatQuery,
		Payload: []byte(query),
		Timeout: m.cfg.ChatTimeout,
	})

	var out any
	if err != nil {
		m.logger.Warn("chat query failed", "session_id", id, "error", err)
		out = errorMessage(failureText(protocol.ChatQuery, err))
	} else if ans, ok := res.(protocol.ChatAnswer); ok {
		out = chatAnswer(ans)
	} else {
		out = errorMessage(failureText(protocol.ChatQuery, unexpected(res)))
	}

	next := m.complete(id, AwaitingChat, out)
	if next != nil {
		if s := m.lookup(id); s != nil {
			s.send(chatThinking())
		}
	}
	return next
}

// complete routes a finished invocation back to session id, clearing flag.
func (m *Manager) complete(id string, flag Flags, msg any) *string {
	s := m.lookup(id)
	if s == nil {
		m.logger.Debug("session gone, discarding result", "session_id", id)
		return nil
	}
	next := s.finish(flag)
	s.send(msg)
	return next
}

// Shutdown closes every session, cancels in-flight invocations and waits for
// them to return or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Close(id)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no invocation is in flight.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) publish(topic string, data map[string]any) {
	if m.events != nil {
		m.events.Publish(topic, data)
	}
}

func unexpected(res protocol.Result) error {
	return protocol.Fail(protocol.ParseError, fmt.Sprintf("unexpected result type %T", res))
}
