package session

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Flags is the set of in-flight request kinds for a session. The zero value is idle.
type Flags uint8

const (
	AwaitingRecognition Flags = 1 << iota
	AwaitingChat
)

const Idle Flags = 0

func (f Flags) String() string {
	if f == Idle {
		return "idle"
	}
	var parts []string
	if f&AwaitingRecognition != 0 {
		parts = append(parts, "awaiting_recognition")
	}
	if f&AwaitingChat != 0 {
		parts = append(parts, "awaiting_chat")
	}
	return strings.Join(parts, "|")
}

// Session is the gateway-side state for one client connection. Its flags and
// pending query are private to it; results reach it only through the
// Manager's id lookup.
type Session struct {
	id       string
	logger   *slog.Logger
	openedAt time.Time

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	flags       Flags
	pendingChat *string
}

func newSession(id string, sendBuffer int, logger *slog.Logger) *Session {
	return &Session{
		id:       id,
		logger:   logger,
		openedAt: time.Now(),
		out:      make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// State returns the current in-flight flags.
func (s *Session) State() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Outbound yields encoded messages for the connection writer.
func (s *Session) Outbound() <-chan []byte { return s.out }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// tryAcquire sets flag and reports true if it was clear.
func (s *Session) tryAcquire(flag Flags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags&flag != 0 {
		return false
	}
	s.flags |= flag
	return true
}

// queueChat replaces the single pending chat query.
func (s *Session) queueChat(query string) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced = s.pendingChat != nil
	s.pendingChat = &query
	return replaced
}

// finish clears flag, unless a pending chat query is waiting, in which case
// the flag stays set and the query is handed back to run next.
func (s *Session) finish(flag Flags) (next *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flag == AwaitingChat && s.pendingChat != nil {
		next, s.pendingChat = s.pendingChat, nil
		return next
	}
	s.flags &^= flag
	return nil
}

// send encodes msg onto the outbound buffer. A full buffer drops the message
// rather than block the caller.
func (s *Session) send(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode message", "error", err)
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.out <- b:
	case <-s.done:
	default:
		s.logger.Warn("send buffer full, dropping message")
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
