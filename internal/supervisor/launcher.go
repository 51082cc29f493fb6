package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

// Process is a handle on a launched workload run.
type Process interface {
	// Wait blocks until the process exits, returning its exit error.
	Wait() error
	// Stop asks the process to terminate.
	Stop() error
}

// Launcher starts one workload process. Tests substitute a fake to
// drive crash sequences without spawning real processes.
type Launcher func(ctx context.Context, cfg Config) (Process, error)

type execProcess struct {
	cmd *exec.Cmd
	out *os.File
}

// ExecLauncher starts the workload via os/exec in its own process
// group, with the configured environment merged into the agent's.
// Credentials travel only through the process environment.
func ExecLauncher(ctx context.Context, cfg Config) (Process, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = mergedEnv(cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out *os.File
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open worker log: %w", err)
		}
		out = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if out != nil {
			out.Close() //nolint:errcheck,gosec // already in the error path
		}
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &execProcess{cmd: cmd, out: out}, nil
}

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if p.out != nil {
		p.out.Close() //nolint:errcheck,gosec // log file close is best-effort
	}
	if err != nil {
		return fmt.Errorf("worker exited: %w", err)
	}
	return nil
}

// Stop signals the whole process group so the workload can flush and
// exit; the context cancellation kills it if it ignores the signal.
func (p *execProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal worker group: %w", err)
	}
	return nil
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
