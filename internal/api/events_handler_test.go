package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/facegate/internal/events"
	"github.com/mattjoyce/facegate/internal/log"
)

// readEvents collects "event:" lines until n have been seen.
func readEvents(t *testing.T, sc *bufio.Scanner, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n && sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "event: ") {
			got = append(got, strings.TrimPrefix(line, "event: "))
		}
	}
	require.Len(t, got, n, "stream ended early: %v", sc.Err())
	return got
}

func TestEvents_ReplayThenLive(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.WorkerStarting, map[string]any{"worker": "rag"})
	hub.Publish(events.WorkerRunning, map[string]any{"worker": "rag"})

	srv := httptest.NewServer(New(Config{}, Deps{Registry: newRegistry(t), Events: hub}, log.Discard()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{events.WorkerStarting, events.WorkerRunning}, readEvents(t, sc, 2))

	hub.Publish(events.SessionOpened, map[string]any{"session_id": "abc"})
	assert.Equal(t, []string{events.SessionOpened}, readEvents(t, sc, 1))
}

func TestEvents_LastEventID(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.WorkerStarting, nil)
	hub.Publish(events.WorkerRunning, nil)
	hub.Publish(events.WorkerExited, nil)

	srv := httptest.NewServer(New(Config{}, Deps{Registry: newRegistry(t), Events: hub}, log.Discard()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{events.WorkerExited}, readEvents(t, sc, 1))
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
