package worker

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestSpawn_EchoesStdin(t *testing.T) {
	script := writeScript(t, "cat\n")

	var stdout bytes.Buffer
	h, err := Spawn(Command{Path: script}, &stdout, nil)
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	_, err = io.WriteString(h.Stdin(), "hello worker")
	require.NoError(t, err)
	require.NoError(t, h.Stdin().Close())

	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello worker", stdout.String())
	assert.True(t, h.Exited())
}

func TestSpawn_NonZeroExit(t *testing.T) {
	script := writeScript(t, "echo boom >&2\nexit 3\n")

	stderr := NewCappedBuffer(1024)
	h, err := Spawn(Command{Path: script}, nil, stderr)
	require.NoError(t, err)
	_ = h.Stdin().Close()

	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "boom\n", stderr.String())
}

func TestSpawn_ArgsAndEnv(t *testing.T) {
	script := writeScript(t, `printf '%s|%s|%s' "$1" "$2" "$FACEGATE_TEST"`)

	var stdout bytes.Buffer
	h, err := Spawn(Command{
		Path: script,
		Args: []string{"--register-face", "Bob"},
		Env:  []string{"FACEGATE_TEST=yes"},
	}, &stdout, nil)
	require.NoError(t, err)
	_ = h.Stdin().Close()

	_, err = h.Wait()
	require.NoError(t, err)
	assert.Equal(t, "--register-face|Bob|yes", stdout.String())
}

func TestSpawn_MissingBinary(t *testing.T) {
	_, err := Spawn(Command{Path: filepath.Join(t.TempDir(), "nope")}, nil, nil)
	assert.Error(t, err)

	_, err = Spawn(Command{}, nil, nil)
	assert.Error(t, err)
}

func TestTerminate_KillsStubbornProcess(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nwhile true; do sleep 0.1; done\n")

	h, err := Spawn(Command{Path: script}, nil, nil)
	require.NoError(t, err)
	assert.False(t, h.Exited())

	start := time.Now()
	h.Terminate(200 * time.Millisecond)

	assert.True(t, h.Exited())
	assert.Equal(t, -1, h.ExitCode(), "signal-killed process reports -1")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTerminate_GracefulExit(t *testing.T) {
	script := writeScript(t, "trap 'exit 0' TERM\nwhile true; do sleep 0.1; done\n")

	h, err := Spawn(Command{Path: script}, nil, nil)
	require.NoError(t, err)

	// Give the shell time to install its trap.
	time.Sleep(100 * time.Millisecond)
	h.Terminate(5 * time.Second)
	assert.True(t, h.Exited())
}

func TestCappedBuffer(t *testing.T) {
	b := NewCappedBuffer(4)

	n, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, b.Truncated())

	n, err = b.Write([]byte("cdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n, "writes report full length even when truncated")
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.Truncated())

	_, _ = b.Write([]byte("g"))
	assert.Equal(t, "abcd", b.String())
}
