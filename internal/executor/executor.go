// Package executor runs allow-listed external commands with validated,
// substituted arguments, a hard timeout and bounded captured output.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

// SecurityError marks an invocation refused before any process was spawned:
// a command outside the allow-list or a parameter that failed the injection
// denylist. The offending raw value is deliberately not included.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "execution refused: " + e.Reason
}

// SubstitutionError marks an argument template with a placeholder left
// unresolved after substitution. A configuration bug, not a security event,
// but it still fails closed.
type SubstitutionError struct {
	Placeholder string
}

func (e *SubstitutionError) Error() string {
	return fmt.Sprintf("unresolved placeholder ${%s} in argument template", e.Placeholder)
}

// Result is the outcome of one external process run.
type Result struct {
	Success   bool
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// truncationMarker is appended whenever captured stdout hits the configured cap.
const truncationMarker = "\n[output truncated]"

// deniedChars are rejected in every caller-supplied parameter value before
// substitution. The template text authored by the plugin declarer is never
// inspected. The ampersand is handled separately (URL exception).
const deniedChars = "|;$`(){}<>\n\r\x00"

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// Executor launches external processes under a host-supplied command
// allow-list. The allow-list is fixed at startup and never extended by any
// declaration.
type Executor struct {
	allowed map[string]struct{}
	logger  *zap.Logger
}

// New creates an executor permitting only the given base executable names.
func New(allowedCommands []string, logger *zap.Logger) *Executor {
	allowed := make(map[string]struct{}, len(allowedCommands))
	for _, c := range allowedCommands {
		allowed[c] = struct{}{}
	}
	return &Executor{allowed: allowed, logger: logger}
}

// Allowed reports whether the base name of command is on the allow-list.
func (e *Executor) Allowed(command string) bool {
	_, ok := e.allowed[filepath.Base(command)]
	return ok
}

// Execute runs the spec's command with params substituted into its argument
// templates. The order is fixed: allow-list gate, parameter denylist,
// substitution with a fail-closed unresolved-placeholder check, then a direct
// process launch (no shell) under the configured timeout. A non-zero exit or
// a timeout is reported in the Result; only refusals and spawn failures
// return an error.
func (e *Executor) Execute(ctx context.Context, spec *plugin.ExecutionSpec, params map[string]string) (*Result, error) {
	if !e.Allowed(spec.Command) {
		e.logger.Warn("Command not allow-listed", zap.String("command", spec.Command))
		return nil, &SecurityError{Reason: fmt.Sprintf("command %q is not allow-listed", filepath.Base(spec.Command))}
	}

	if err := ValidateParams(params); err != nil {
		e.logger.Warn("Parameter failed injection denylist", zap.Error(err))
		return nil, err
	}

	args, err := substituteArgs(spec.Args, params)
	if err != nil {
		return nil, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command, args...)
	cmd.Dir = spec.WorkingDir
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	maxBytes := spec.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 10
	}
	stdout := newBoundedBuffer(maxBytes)
	stderr := newBoundedBuffer(maxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated(),
		Duration:  time.Since(start),
	}
	if res.Truncated {
		res.Stdout += truncationMarker
	}

	if runErr == nil {
		res.Success = true
		return res, nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		e.logger.Warn("Command timed out",
			zap.String("command", spec.Command),
			zap.Duration("timeout", timeout),
		)
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return nil, fmt.Errorf("failed to spawn %s: %w", spec.Command, runErr)
}

// ValidateParams applies the character denylist to every caller-supplied
// value. An ampersand is permitted only when the whole value is a well-formed
// http(s) URL, where it is a query separator and the process is invoked
// directly rather than through a shell.
func ValidateParams(params map[string]string) error {
	for name, value := range params {
		if strings.ContainsAny(value, deniedChars) {
			return &SecurityError{Reason: fmt.Sprintf("parameter %q contains a forbidden character", name)}
		}
		if strings.Contains(value, "&") && !isHTTPURL(value) {
			return &SecurityError{Reason: fmt.Sprintf("parameter %q contains a forbidden character", name)}
		}
	}
	return nil
}

func isHTTPURL(value string) bool {
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// substituteArgs replaces ${name} placeholders in each template. Any
// placeholder still present afterwards fails the call, naming the
// placeholder; a literal ${...} token is never passed to the child process.
func substituteArgs(templates []string, params map[string]string) ([]string, error) {
	args := make([]string, len(templates))
	for i, tmpl := range templates {
		arg := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
			name := m[2 : len(m)-1]
			if v, ok := params[name]; ok {
				return v
			}
			return m
		})
		if m := placeholderRe.FindStringSubmatch(arg); m != nil {
			return nil, &SubstitutionError{Placeholder: m[1]}
		}
		args[i] = arg
	}
	return args, nil
}

// boundedBuffer captures writer output up to a byte cap, discarding the rest.
type boundedBuffer struct {
	max       int64
	buf       strings.Builder
	truncated bool
}

func newBoundedBuffer(max int64) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string  { return b.buf.String() }
func (b *boundedBuffer) Truncated() bool { return b.truncated }
