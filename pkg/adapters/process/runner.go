package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/domain"
)

// ErrNotRegistered is returned for tasks without a registered command.
var ErrNotRegistered = errors.New("no command registered for task")

// Runner implements ports.TaskRunner by executing local processes.
// It follows a strict registry pattern: only registered tasks can run.
type Runner struct {
	registry map[string]RegisteredProcess
	baseDir  string
	logger   *slog.Logger
}

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tasks map[string]TaskConfig) RunnerOption {
	return func(r *Runner) {
		for name, t := range tasks {
			r.registry[name] = RegisteredProcess{Command: t.Command, Args: t.Args, Env: t.Environment, Timeout: t.Timeout}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a new process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]RegisteredProcess),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(task string, command string, args ...string) {
	r.registry[task] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Run executes the command registered for key.TaskName.
//
// The task identity is passed as environment variables (WEFT_INSTANCE_ID, WEFT_TASK,
// WEFT_CALLER), never as arguments, so callers cannot inject flags.
func (r *Runner) Run(ctx context.Context, caller string, key domain.TaskKey) error {
	proc, ok := r.registry[key.TaskName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, key.TaskName)
	}

	if proc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proc.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir

	env := cmd.Environ()
	for k, v := range proc.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"WEFT_INSTANCE_ID="+strconv.FormatUint(key.InstanceID, 10),
		"WEFT_TASK="+key.TaskName,
		"WEFT_CALLER="+caller,
	)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("task %s failed: %w (stderr: %s)", key, err, bytes.TrimSpace(stderr.Bytes()))
	}

	r.logger.Debug("Task executed", "task", key.String(), "caller", caller, "stdout", string(bytes.TrimSpace(stdout.Bytes())))
	return nil
}
