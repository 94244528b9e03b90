// Package proc supervises child processes so that exit, deadline and
// cancellation are observed by a single wait.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGrace is used when a zero grace period is passed to Start.
const DefaultGrace = 5 * time.Second

var ErrNotStarted = errors.New("process not started")

// Process is a started child running in its own process group.
type Process struct {
	cmd   *exec.Cmd
	grace time.Duration

	done     chan struct{}
	err      error
	stopOnce sync.Once
	stopped  bool
	mu       sync.Mutex
}

// Start launches cmd in a fresh process group. The returned Process must be
// waited on (Wait or Stop) by the caller.
func Start(cmd *exec.Cmd, grace time.Duration) (*Process, error) {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	if cmd.WaitDelay == 0 {
		// bounds Wait when an escaped grandchild still holds an output pipe
		cmd.WaitDelay = grace
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:   cmd,
		grace: grace,
		done:  make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error. Only meaningful after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Interrupted reports whether Stop had to signal the process.
func (p *Process) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Wait blocks until the process exits or ctx is done, whichever comes first.
// When ctx wins the process group is stopped and reaped before Wait returns
// the context cause.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		p.Stop()
		return context.Cause(ctx)
	}
}

// Stop sends SIGINT to the process group, escalates to SIGKILL after the
// grace period, and returns once the process is reaped. Safe to call more
// than once and after the process already exited.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		p.signal(unix.SIGINT)
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.signal(unix.SIGKILL)
		}
	})
	<-p.done
}

func (p *Process) signal(sig unix.Signal) {
	pid := p.cmd.Process.Pid
	// negative pid addresses the whole group
	if err := unix.Kill(-pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

// Run starts cmd and waits for it under ctx. It is Start followed by Wait.
func Run(ctx context.Context, cmd *exec.Cmd, grace time.Duration) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	p, err := Start(cmd, grace)
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// ExitCode extracts the exit status from an error returned by Wait, or -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
