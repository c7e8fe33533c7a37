package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"taskscheduler/internal/shared"
)

const (
	defaultKillGrace = 2 * time.Second
	maxStderr        = 8 << 10
	stderrInMessage  = 1 << 10
)

// ShellConfig configures a shell-command executor.
type ShellConfig struct {
	// Command is the executable path or name looked up in PATH.
	Command string
	Args    []string
	Dir     string
	// Env overrides or extends the scheduler's own environment.
	Env     map[string]string
	Timeout time.Duration
	// KillGrace is how long a process may run after SIGTERM before it is killed.
	KillGrace      time.Duration
	MaxOutputBytes int
}

// Shell runs one process per execution in its own process group.
type Shell struct {
	cfg ShellConfig
}

// NewShell validates cfg and builds the executor.
func NewShell(cfg ShellConfig) (*Shell, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, shared.Errorf(shared.KindValidation, "command cannot be empty")
	}
	if cfg.Dir != "" {
		st, err := os.Stat(cfg.Dir)
		if err != nil {
			return nil, shared.Errorf(shared.KindValidation, "working directory %q: %v", cfg.Dir, err)
		}
		if !st.IsDir() {
			return nil, shared.Errorf(shared.KindValidation, "working directory %q is not a directory", cfg.Dir)
		}
	}
	if cfg.Timeout < 0 || cfg.KillGrace < 0 {
		return nil, shared.Errorf(shared.KindValidation, "timeout and kill grace cannot be negative")
	}
	for k := range cfg.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			return nil, shared.Errorf(shared.KindValidation, "invalid environment variable name %q", k)
		}
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutput
	}
	return &Shell{cfg: cfg}, nil
}

// Kind implements Executor.
func (s *Shell) Kind() Kind { return KindShell }

// Timeout implements Timeouter.
func (s *Shell) Timeout() time.Duration { return s.cfg.Timeout }

// Config returns a copy of the validated config.
func (s *Shell) Config() ShellConfig { return s.cfg }

// Execute implements Executor.
func (s *Shell) Execute(ctx context.Context) Outcome {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	stdout := newCappedBuffer(s.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(maxStderr)

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = mergeEnv(os.Environ(), s.cfg.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	prepareCommand(cmd, s.cfg.KillGrace)

	err := cmd.Run()
	out := stdout.Bytes()
	if err == nil {
		return Success(out)
	}
	if o, ok := Interrupted(ctx, err); ok {
		o.Output = out
		return o
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(Text(truncate(stderr.Bytes(), stderrInMessage)))
		if msg == "" {
			return Failure(fmt.Errorf("exit code %d", exitErr.ExitCode()), out)
		}
		return Failure(fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), msg), out)
	}
	return Failure(fmt.Errorf("start %s: %w", s.cfg.Command, err), out)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
