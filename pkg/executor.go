package pkg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// CommandFailed is returned by Executor when a spawned command exits with a
// non-zero status. ExitCode reports -1 when the process could not report a
// status at all (e.g. killed by a signal).
type CommandFailed struct {
	Argv     []string
	ExitCode int
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command failed with exit code %d: %v", e.ExitCode, e.Argv)
}

// RunOption configures a single Executor call.
type RunOption func(*runConfig)

type runConfig struct {
	stdin []byte
	env   []string
}

// WithStdin pipes data to the child's stdin instead of leaving it closed.
func WithStdin(data []byte) RunOption {
	return func(c *runConfig) { c.stdin = data }
}

// WithEnv overrides the child's environment entirely (callers that want to
// extend rather than replace the current environment should start from
// os.Environ()).
func WithEnv(env []string) RunOption {
	return func(c *runConfig) { c.env = env }
}

// Runner is the subset of Executor the rest of the pipeline depends on. The
// orchestrator and CommandResolver take a Runner rather than *Executor
// directly so tests can substitute an in-memory mock that records every argv
// it was asked to run instead of actually spawning anything.
type Runner interface {
	Run(ctx context.Context, argv []string, opts ...RunOption) error
	Capture(ctx context.Context, argv []string, opts ...RunOption) ([]byte, error)
}

// Executor runs host commands on behalf of the orchestrator. Every command
// the pipeline runs funnels through here, so a test can substitute a mock
// and observe the call log, with one exception: SetRootPasswordInTarget
// spawns chpasswd itself and does not appear in that log.
type Executor struct {
	msg Messenger
}

// NewExecutor returns an Executor that announces every command through msg.
func NewExecutor(msg Messenger) *Executor {
	return &Executor{msg: msg}
}

func (e *Executor) build(ctx context.Context, argv []string, opts []RunOption) (*exec.Cmd, *runConfig) {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	e.msg.AnnounceCommand(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if cfg.env != nil {
		cmd.Env = cfg.env
	}
	if cfg.stdin != nil {
		cmd.Stdin = bytes.NewReader(cfg.stdin)
	}
	return cmd, cfg
}

// Run spawns argv[0] with inherited stdio (stdout/stderr) unless overridden,
// waits for completion, and returns CommandFailed on non-zero exit.
func (e *Executor) Run(ctx context.Context, argv []string, opts ...RunOption) error {
	cmd, _ := e.build(ctx, argv, opts)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return wrapExitError(argv, err)
	}
	return nil
}

// Capture behaves like Run but returns the child's captured stdout instead
// of inheriting it; stderr is still inherited so failures remain visible.
func (e *Executor) Capture(ctx context.Context, argv []string, opts ...RunOption) ([]byte, error) {
	cmd, _ := e.build(ctx, argv, opts)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, wrapExitError(argv, err)
	}
	return out, nil
}

func wrapExitError(argv []string, err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &CommandFailed{Argv: argv, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("running %v: %w", argv, err)
}

// ExitCode extracts the process exit code from err if it is (or wraps) a
// CommandFailed, and -1 otherwise. Used by the retry helper to special-case
// exit 127 ("command not found" from the shell that execs argv[0]).
func ExitCode(err error) int {
	var cf *CommandFailed
	if errors.As(err, &cf) {
		return cf.ExitCode
	}
	return -1
}
