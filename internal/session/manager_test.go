package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/facegate/internal/events"
	"github.com/mattjoyce/facegate/internal/invoke"
	"github.com/mattjoyce/facegate/internal/log"
	"github.com/mattjoyce/facegate/internal/protocol"
	"github.com/mattjoyce/facegate/internal/session/mocks"
	"github.com/mattjoyce/facegate/internal/worker"
)

func newTestManager(t *testing.T, inv Invoker, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg, inv, nil, log.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func recv(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case b := <-s.Outbound():
		var msg map[string]any
		require.NoError(t, json.Unmarshal(b, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func assertNoMessage(t *testing.T, s *Session) {
	t.Helper()
	select {
	case b := <-s.Outbound():
		t.Fatalf("unexpected message: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func frame(t *testing.T, msg ClientMessage) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestHandle_DuplicateRecognizeDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{})
	s := m.Open("test")

	release := make(chan struct{})
	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req protocol.Request) (protocol.Result, error) {
		assert.Equal(t, protocol.Recognize, req.Kind)
		assert.Equal(t, "aGVsbG8=", string(req.Payload), "data URL prefix must be stripped")
		<-release
		return protocol.Recognition{Faces: []protocol.FaceMatch{}}, nil
	}).Times(1)

	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "data:image/jpeg;base64,aGVsbG8="}))
	require.Eventually(t, func() bool { return s.State() == AwaitingRecognition }, time.Second, 5*time.Millisecond)

	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "aGVsbG8="}))
	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "aGVsbG8="}))
	close(release)

	msg := recv(t, s)
	assert.Equal(t, TypeRecognitionResult, msg["type"])
	assert.Equal(t, []any{}, msg["faces"])
	m.Wait()
	assert.Equal(t, Idle, s.State())
	assertNoMessage(t, s)
}

func TestHandle_RecognitionAfterCompletionInvokesAgain(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{})
	s := m.Open("test")

	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(protocol.Recognition{}, nil).Times(2)

	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "x"}))
	recv(t, s)
	m.Wait()
	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "x"}))
	recv(t, s)
	m.Wait()
}

func TestHandle_ResultsRoutedToOriginatingSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{})
	alice := m.Open("a")
	bob := m.Open("b")

	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req protocol.Request) (protocol.Result, error) {
		return protocol.Recognition{Faces: []protocol.FaceMatch{{Name: string(req.Payload), Confidence: 0.5}}}, nil
	}).Times(2)

	m.Handle(alice, frame(t, ClientMessage{Type: TypeRecognize, Image: "Alice"}))
	m.Handle(bob, frame(t, ClientMessage{Type: TypeRecognize, Image: "Bob"}))

	a := recv(t, alice)
	b := recv(t, bob)
	assert.Equal(t, "Alice", a["faces"].([]any)[0].(map[string]any)["name"])
	assert.Equal(t, "Bob", b["faces"].([]any)[0].(map[string]any)["name"])
	m.Wait()
}

func TestHandle_ChatAnswer(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{ChatTimeout: 3 * time.Second})
	s := m.Open("test")

	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req protocol.Request) (protocol.Result, error) {
		assert.Equal(t, protocol.ChatQuery, req.Kind)
		assert.Equal(t, "who is here?", string(req.Payload))
		assert.Equal(t, 3*time.Second, req.Timeout)
		return protocol.ChatAnswer{Text: "Alice", SourceCount: 2}, nil
	})

	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "who is here?"}))

	interim := recv(t, s)
	assert.Equal(t, map[string]any{"type": TypeChatResponse, "message": "Thinking...", "isLoading": true}, interim)

	final := recv(t, s)
	assert.Equal(t, map[string]any{"type": TypeChatResponse, "message": "Alice", "sourceCount": float64(2), "isLoading": false}, final)
	m.Wait()
	assert.Equal(t, Idle, s.State())
}

func TestHandle_ChatTimeoutClearsFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{})
	s := m.Open("test")

	gomock.InOrder(
		inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(nil, protocol.Fail(protocol.Timeout, "invocation exceeded 30s")),
		inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(protocol.ChatAnswer{Text: "ok"}, nil),
	)

	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "slow question"}))
	recv(t, s) // Thinking...
	assert.Equal(t, map[string]any{"type": TypeError, "message": "Error processing chat query"}, recv(t, s))
	m.Wait()
	assert.Equal(t, Idle, s.State())

	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "again"}))
	recv(t, s)
	assert.Equal(t, "ok", recv(t, s)["message"])
	m.Wait()
}

func TestHandle_ChatAndRecognitionIndependent(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{})
	s := m.Open("test")

	release := make(chan struct{})
	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req protocol.Request) (protocol.Result, error) {
		<-release
		if req.Kind == protocol.ChatQuery {
			return protocol.ChatAnswer{Text: "hi"}, nil
		}
		return protocol.Recognition{}, nil
	}).Times(2)

	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "x"}))
	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "hello"}))
	require.Eventually(t, func() bool {
		return s.State() == AwaitingRecognition|AwaitingChat
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "awaiting_recognition|awaiting_chat", s.State().String())

	close(release)
	m.Wait()
	assert.Equal(t, Idle, s.State())
}

func TestHandle_ChatDropPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{ChatPolicy: ChatDrop})
	s := m.Open("test")

	release := make(chan struct{})
	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req protocol.Request) (protocol.Result, error) {
		<-release
		return protocol.ChatAnswer{Text: string(req.Payload)}, nil
	}).Times(1)

	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "first"}))
	recv(t, s)
	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "second"}))
	close(release)

	assert.Equal(t, "first", recv(t, s)["message"])
	m.Wait()
	assertNoMessage(t, s)
}

func TestHandle_ChatReplacePolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{ChatPolicy: ChatReplace})
	s := m.Open("test")

	release := make(chan struct{})
	var seen []string
	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req protocol.Request) (protocol.Result, error) {
		seen = append(seen, string(req.Payload))
		if len(seen) == 1 {
			<-release
		}
		return protocol.ChatAnswer{Text: string(req.Payload)}, nil
	}).Times(2)

	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "first"}))
	recv(t, s)
	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "second"}))
	m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "third"}))
	close(release)

	assert.Equal(t, "first", recv(t, s)["message"])
	assert.Equal(t, "Thinking...", recv(t, s)["message"])
	assert.Equal(t, "third", recv(t, s)["message"])
	m.Wait()
	assert.Equal(t, []string{"first", "third"}, seen)
	assert.Equal(t, Idle, s.State())
}

func TestHandle_FailureMessages(t *testing.T) {
	tests := []struct {
		kind protocol.Kind
		err  error
		want string
	}{
		{protocol.Recognize, protocol.Fail(protocol.ProcessError, "non-zero exit"), "Error processing recognition request"},
		{protocol.Recognize, protocol.Fail(protocol.ParseError, "bad"), "Error parsing recognition result"},
		{protocol.Recognize, protocol.Fail(protocol.WorkerUnavailable, "down"), "Recognition service is unavailable"},
		{protocol.Recognize, protocol.Fail(protocol.Timeout, "slow"), "Error processing recognition request"},
		{protocol.ChatQuery, protocol.Fail(protocol.ProcessError, "non-zero exit"), "Error processing chat query"},
		{protocol.ChatQuery, protocol.Fail(protocol.ParseError, "bad"), "Error parsing chat response"},
		{protocol.ChatQuery, protocol.Fail(protocol.WorkerUnavailable, "down"), "Chat service is unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			inv := mocks.NewMockInvoker(ctrl)
			m := newTestManager(t, inv, Config{})
			s := m.Open("test")

			inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(nil, tt.err)

			if tt.kind == protocol.ChatQuery {
				m.Handle(s, frame(t, ClientMessage{Type: TypeChatQuery, Message: "q"}))
				recv(t, s)
			} else {
				m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "x"}))
			}
			assert.Equal(t, map[string]any{"type": TypeError, "message": tt.want}, recv(t, s))
			m.Wait()
		})
	}
}

func TestHandle_BadFrames(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	m := newTestManager(t, inv, Config{})
	s := m.Open("test")

	m.Handle(s, []byte("{not json"))
	assert.Equal(t, map[string]any{"type": TypeError, "message": "Invalid message format"}, recv(t, s))

	m.Handle(s, []byte(`{"type":"DANCE"}`))
	assertNoMessage(t, s)

	m.Handle(s, []byte(`{"type":"RECOGNIZE"}`))
	assert.Equal(t, "No image provided", recv(t, s)["message"])

	m.Handle(s, []byte(`{"type":"CHAT_QUERY","message":"  "}`))
	assert.Equal(t, "No message provided", recv(t, s)["message"])

	assert.Equal(t, Idle, s.State())
}

func TestClose_DiscardsInFlightResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mocks.NewMockInvoker(ctrl)
	hub := events.NewHub(16)
	m := NewManager(Config{}, inv, hub, log.Discard())
	defer m.Shutdown(context.Background())

	release := make(chan struct{})
	inv.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ protocol.Request) (protocol.Result, error) {
		<-release
		assert.NoError(t, ctx.Err(), "closing a session must not cancel its invocation")
		return protocol.Recognition{}, nil
	})

	s := m.Open("test")
	m.Handle(s, frame(t, ClientMessage{Type: TypeRecognize, Image: "x"}))
	m.Close(s.ID())
	assert.Zero(t, m.Count())

	close(release)
	m.Wait()
	assertNoMessage(t, s)

	var topics []string
	for _, ev := range hub.SnapshotSince(0) {
		topics = append(topics, ev.Type)
	}
	assert.Equal(t, []string{events.SessionOpened, events.SessionClosed}, topics)
}

func TestSession_SendBufferOverflowDrops(t *testing.T) {
	s := newSession("s1", 2, log.Discard())
	for i := 0; i < 5; i++ {
		s.send(errorMessage("x"))
	}
	assert.Len(t, s.out, 2)

	s.close()
	s.send(errorMessage("after close"))
	assert.Len(t, s.out, 2)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_recognition", AwaitingRecognition.String())
	assert.Equal(t, "awaiting_chat", AwaitingChat.String())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWebSocket_RecognizeEndToEnd(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo '{"faces":[{"x":10,"y":20,"width":50,"height":60,"name":"Alice","confidence":0.92}]}'
`)
	inv := invoke.New(map[protocol.Kind]invoke.Spec{
		protocol.Recognize: {Command: worker.Command{Path: script, Args: []string{"--recognize"}}},
	}, nil, log.Discard())

	m := newTestManager(t, inv, Config{})
	srv := httptest.NewServer(m)
	defer srv.Close()

	ws := dial(t, srv)
	require.NoError(t, ws.WriteJSON(ClientMessage{Type: TypeRecognize, Image: "data:image/jpeg;base64,/9j/4AAQSkZJRg=="}))

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"RECOGNITION_RESULT","faces":[{"x":10,"y":20,"width":50,"height":60,"name":"Alice","confidence":0.92}]}`, string(raw))

	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return m.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_UnrespondedPingClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, mocks.NewMockInvoker(ctrl), Config{
		PingInterval: 50 * time.Millisecond,
		PongGrace:    50 * time.Millisecond,
	})
	srv := httptest.NewServer(m)
	defer srv.Close()

	// The client never reads, so it never answers pings.
	dial(t, srv)
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RespondingClientStaysOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, mocks.NewMockInvoker(ctrl), Config{
		PingInterval: 30 * time.Millisecond,
		PongGrace:    200 * time.Millisecond,
	})
	srv := httptest.NewServer(m)
	defer srv.Close()

	ws := dial(t, srv)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, m.Count())
}
