// Package doctor checks that a loaded configuration can actually run on this
// host: worker binaries resolve and referenced scripts and directories exist.
package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/facegate/internal/config"
	"github.com/mattjoyce/facegate/internal/protocol"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var unresolvedEnv = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// scriptSuffixes mark arguments that name interpreter scripts.
var scriptSuffixes = []string{".py", ".sh", ".js", ".rb"}

// Doctor runs host-level checks against a config.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{}

	d.checkListen(r)
	d.checkRegistry(r)
	d.checkWorkers(r)
	d.checkInvocations(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkListen(r *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	}
}

func (d *Doctor) checkRegistry(r *Result) {
	if d.cfg.Registry.Driver != "sqlite" || d.cfg.Registry.Path == ":memory:" {
		return
	}
	dir := filepath.Dir(d.cfg.Registry.Path)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		d.addError(r, "registry", "registry.path", fmt.Sprintf("%s is not a directory", dir))
	} else if err != nil {
		d.addWarning(r, "registry", "registry.path", fmt.Sprintf("directory %s does not exist yet; it will be created", dir))
	}
}

func (d *Doctor) checkWorkers(r *Result) {
	for _, w := range d.cfg.Workers {
		field := fmt.Sprintf("workers.%s", w.Name)
		d.checkCommand(r, "worker", field, w.Command, w.Args, w.Dir)
		if b := w.CircuitBreaker; b != nil && b.Threshold > 0 && b.StableAfter == 0 {
			d.addWarning(r, "worker", field+".circuit_breaker", "stable_after is 0, so every exit counts toward the threshold")
		}
	}
}

func (d *Doctor) checkInvocations(r *Result) {
	for _, kind := range protocol.Kinds {
		field := "invocations." + string(kind)
		inv, ok := d.cfg.Invocations[string(kind)]
		if !ok {
			d.addWarning(r, "invocation", field, "not configured; requests of this kind will fail")
			continue
		}
		d.checkCommand(r, "invocation", field, inv.Command, inv.Args, inv.Dir)
	}
}

func (d *Doctor) checkCommand(r *Result, category, field, command string, args []string, dir string) {
	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			d.addError(r, category, field+".dir", fmt.Sprintf("working directory %s does not exist", dir))
		}
	}

	if _, err := d.lookPath(command); err != nil {
		d.addError(r, category, field+".command", fmt.Sprintf("command %q not found: %v", command, err))
	}

	for _, arg := range args {
		if m := unresolvedEnv.FindStringSubmatch(arg); m != nil {
			d.addWarning(r, category, field+".args", fmt.Sprintf("argument references unset variable ${%s}", m[1]))
			continue
		}
		if !isScript(arg) {
			continue
		}
		path := arg
		if dir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			d.addError(r, category, field+".args", fmt.Sprintf("script %s does not exist", path))
		}
	}
}

func isScript(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	for _, s := range scriptSuffixes {
		if strings.HasSuffix(arg, s) {
			return true
		}
	}
	return false
}
