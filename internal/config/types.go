package config

import "time"

// Config represents the complete facegate configuration.
type Config struct {
	Service     ServiceConfig               `yaml:"service" json:"service"`
	API         APIConfig                   `yaml:"api" json:"api"`
	Sessions    SessionsConfig              `yaml:"sessions" json:"sessions"`
	Registry    RegistryConfig              `yaml:"registry" json:"registry"`
	Workers     []WorkerConfig              `yaml:"workers" json:"workers"`
	Invocations map[string]InvocationConfig `yaml:"invocations" json:"invocations"`

	// SourcePath is the file the config was loaded from; empty for built-in defaults.
	SourcePath string `yaml:"-" json:"source_path,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	PIDFile  string `yaml:"pid_file" json:"pid_file"`
}

// APIConfig defines the HTTP listener.
type APIConfig struct {
	Listen       string        `yaml:"listen" json:"listen"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// SessionsConfig defines the real-time session protocol.
type SessionsConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PongGrace      time.Duration `yaml:"pong_grace" json:"pong_grace"`
	SendBuffer     int           `yaml:"send_buffer" json:"send_buffer"`
	ChatBusyPolicy string        `yaml:"chat_busy_policy" json:"chat_busy_policy"` // drop | replace
}

// RegistryConfig selects the face-name store.
type RegistryConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite | postgres
	Path   string `yaml:"path" json:"path"`
	DSN    string `yaml:"dsn" json:"-"`
}

// WorkerConfig defines one supervised long-running worker.
type WorkerConfig struct {
	Name           string         `yaml:"name" json:"name"`
	Command        string         `yaml:"command" json:"command"`
	Args           []string       `yaml:"args,omitempty" json:"args,omitempty"`
	Env            []string       `yaml:"env,omitempty" json:"env,omitempty"`
	Dir            string         `yaml:"dir,omitempty" json:"dir,omitempty"`
	Backoff        time.Duration  `yaml:"backoff" json:"backoff"`
	CircuitBreaker *BreakerConfig `yaml:"circuit_breaker,omitempty" json:"circuit_breaker,omitempty"`
}

// BreakerConfig lengthens the restart delay of a crash-looping worker.
type BreakerConfig struct {
	Threshold   int           `yaml:"threshold" json:"threshold"`
	Cooldown    time.Duration `yaml:"cooldown" json:"cooldown"`
	StableAfter time.Duration `yaml:"stable_after" json:"stable_after"`
}

// InvocationConfig defines how one request kind spawns its transient worker.
type InvocationConfig struct {
	Command  string        `yaml:"command" json:"command"`
	Args     []string      `yaml:"args,omitempty" json:"args,omitempty"`
	Env      []string      `yaml:"env,omitempty" json:"env,omitempty"`
	Dir      string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Requires string        `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// ChecksumManifest is the .checksums file written by `facegate config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

const (
	faceScript = "python/face_recognition_service.py"
	ragScript  = "python/enhanced_rag_service.py"
)

// Defaults returns a Config with every default filled in. It runs the
// original Python services from ./python.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "facegate",
			LogLevel: "info",
			PIDFile:  "./data/facegate.pid",
		},
		API: APIConfig{
			Listen:       "0.0.0.0:5000",
			MaxBodyBytes: 50 << 20,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Sessions: SessionsConfig{
			PingInterval:   30 * time.Second,
			PongGrace:      10 * time.Second,
			SendBuffer:     16,
			ChatBusyPolicy: "drop",
		},
		Registry: RegistryConfig{
			Driver: "sqlite",
			Path:   "./data/registry.db",
		},
		Workers: []WorkerConfig{
			{Name: "face-recognition", Command: "python", Args: []string{faceScript}, Backoff: 5 * time.Second},
			{Name: "rag", Command: "python", Args: []string{ragScript}, Backoff: 5 * time.Second},
		},
		Invocations: map[string]InvocationConfig{
			"check_face":    {Command: "python", Args: []string{faceScript, "--check-face"}, Timeout: 15 * time.Second},
			"register_face": {Command: "python", Args: []string{faceScript, "--register-face"}, Timeout: 15 * time.Second},
			"recognize":     {Command: "python", Args: []string{faceScript, "--recognize"}, Timeout: 15 * time.Second},
			"chat_query":    {Command: "python", Args: []string{ragScript, "--query"}, Timeout: 30 * time.Second},
		},
	}
}
