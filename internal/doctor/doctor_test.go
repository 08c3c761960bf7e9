package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/facegate/internal/config"
)

func found(string) (string, error) { return "/usr/bin/true", nil }

func missing(name string) (string, error) { return "", errors.New("executable file not found in $PATH") }

// healthyConfig returns defaults whose scripts exist under a temp dir.
func healthyConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "python"), 0o755))
	for _, f := range []string{"python/face_recognition_service.py", "python/enhanced_rag_service.py"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
	}

	cfg := config.Defaults()
	cfg.Registry.Path = filepath.Join(dir, "registry.db")
	for i := range cfg.Workers {
		cfg.Workers[i].Dir = dir
	}
	for k, inv := range cfg.Invocations {
		inv.Dir = dir
		cfg.Invocations[k] = inv
	}
	return cfg
}

func TestValidate_Healthy(t *testing.T) {
	d := New(healthyConfig(t))
	d.lookPath = found

	r := d.Validate()
	assert.True(t, r.Valid, "%+v", r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestValidate_MissingCommand(t *testing.T) {
	d := New(healthyConfig(t))
	d.lookPath = missing

	r := d.Validate()
	assert.False(t, r.Valid)
	// Two workers plus four invocations.
	assert.Len(t, r.Errors, 6)
	assert.Equal(t, "workers.face-recognition.command", r.Errors[0].Field)
}

func TestValidate_MissingScript(t *testing.T) {
	cfg := healthyConfig(t)
	cfg.Workers[1].Args = []string{"python/gone.py"}

	d := New(cfg)
	d.lookPath = found
	r := d.Validate()

	require.Len(t, r.Errors, 1)
	assert.Equal(t, "workers.rag.args", r.Errors[0].Field)
	assert.Contains(t, r.Errors[0].Message, "gone.py")
}

func TestValidate_MissingDir(t *testing.T) {
	cfg := healthyConfig(t)
	inv := cfg.Invocations["check_face"]
	inv.Dir = filepath.Join(t.TempDir(), "absent")
	cfg.Invocations["check_face"] = inv

	d := New(cfg)
	d.lookPath = found
	r := d.Validate()

	assert.False(t, r.Valid)
	assert.Equal(t, "invocations.check_face.dir", r.Errors[0].Field)
}

func TestValidate_Warnings(t *testing.T) {
	cfg := healthyConfig(t)
	delete(cfg.Invocations, "chat_query")
	cfg.Workers[0].CircuitBreaker = &config.BreakerConfig{Threshold: 2, Cooldown: 1}
	cfg.Workers[0].Args = append(cfg.Workers[0].Args, "${FACEGATE_MODEL}")

	d := New(cfg)
	d.lookPath = found
	r := d.Validate()

	assert.True(t, r.Valid)
	fields := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{
		"workers.face-recognition.circuit_breaker",
		"workers.face-recognition.args",
		"invocations.chat_query",
	}, fields)
}

func TestValidate_BadListen(t *testing.T) {
	cfg := healthyConfig(t)
	cfg.API.Listen = "5000"

	d := New(cfg)
	d.lookPath = found
	r := d.Validate()

	assert.False(t, r.Valid)
	assert.Equal(t, "api.listen", r.Errors[0].Field)
}

func TestIsScript(t *testing.T) {
	assert.True(t, isScript("python/face_recognition_service.py"))
	assert.False(t, isScript("--check-face"))
	assert.False(t, isScript("--query"))
}
