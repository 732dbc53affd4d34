package sandbox

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// process describes one sandboxed command.
type process struct {
	dir    string
	env    []string
	argv   []string
	limits Limits
}

// procResult is what a finished (or killed) process left behind.
type procResult struct {
	exitCode int
	signal   syscall.Signal
	timedOut bool
	flooded  bool
	output   *boundedBuffer
	coverage *lineFilter
	startErr error
}

// run executes p in its own process group with the isolated environment.
//
// stdout and stderr share one bounded buffer, and every COVERED_FUNC line
// is also collected in full. When ctx ends, or output
// floods, the whole group is killed with SIGKILL. After a normal exit the
// group is killed as well so no descendant outlives the step.
func run(ctx context.Context, p process) procResult {
	out := newBoundedBuffer(p.limits.MaxOutputBytes)
	cov := newLineFilter(coveredFuncPrefix)
	res := procResult{output: out, coverage: cov}

	if err := ctx.Err(); err != nil {
		res.timedOut = true
		return res
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	cmd.Env = p.env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	w := io.MultiWriter(out, cov)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = 500 * time.Millisecond

	if err := cmd.Start(); err != nil {
		res.startErr = err
		return res
	}
	pid := cmd.Process.Pid
	applyRlimits(pid, p.limits)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		err = <-done
		res.timedOut = true
	case <-out.Flooded():
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		err = <-done
		res.flooded = true
	case err = <-done:
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.signal = ws.Signal()
		}
	} else if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		res.startErr = err
	}
	return res
}

// violationSignal reports whether sig means the process hit a sandbox limit.
func violationSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGXCPU, syscall.SIGXFSZ, syscall.SIGSYS:
		return true
	}
	return false
}
