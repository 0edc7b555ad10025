// Package supervise keeps the worker process running.
//
// The loop runs the worker in the foreground and relaunches it after every
// exit until the context is cancelled; crash and normal termination are
// indistinguishable from outside the binary. The restart delay is a
// parameter, not a constant, so tests can run the loop at full speed.
package supervise

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/kuzco-tools/kuzcoctl/internal/executor"
)

// DefaultRestartDelay is the pause between a worker exit and its relaunch.
const DefaultRestartDelay = 5 * time.Second

// DefaultStopGrace is how long a TERM'd worker gets before KILL.
const DefaultStopGrace = 10 * time.Second

// Loop restarts a command until cancelled.
type Loop struct {
	// Command is the worker argv. Must be non-empty.
	Command []string

	// Delay is the restart delay. Zero means DefaultRestartDelay.
	Delay time.Duration

	// StopGrace bounds graceful shutdown on cancellation.
	// Zero means DefaultStopGrace.
	StopGrace time.Duration

	// UsePTY runs the worker under a pseudo-terminal so it keeps
	// line-buffered output when stdout is a log file.
	UsePTY bool

	// Output receives worker stdout/stderr. Nil means os.Stdout.
	Output io.Writer

	// Executor starts the worker. Nil means the default executor.
	Executor executor.Executor

	// Log receives lifecycle events. Nil means slog.Default().
	Log *slog.Logger
}

func (l *Loop) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

func (l *Loop) exec() executor.Executor {
	if l.Executor != nil {
		return l.Executor
	}
	return executor.Default()
}

func (l *Loop) delay() time.Duration {
	if l.Delay > 0 {
		return l.Delay
	}
	return DefaultRestartDelay
}

func (l *Loop) grace() time.Duration {
	if l.StopGrace > 0 {
		return l.StopGrace
	}
	return DefaultStopGrace
}

// Run executes the loop until ctx is cancelled. It returns ctx.Err() on
// cancellation and a launch error if the worker could not be started at all.
func (l *Loop) Run(ctx context.Context) error {
	log := l.log()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Info("launching worker", "command", l.Command[0])
		exitCode, err := l.runOnce(ctx)
		if err != nil {
			// Could not even start the binary. Retrying in a tight loop
			// won't help if it's missing; surface the error instead.
			log.Error("worker failed to launch", "error", err)
			return err
		}

		if ctx.Err() != nil {
			log.Info("supervision cancelled", "exit_code", exitCode)
			return ctx.Err()
		}

		log.Warn("worker exited, relaunching",
			"exit_code", exitCode,
			"delay", l.delay())

		select {
		case <-time.After(l.delay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce starts the worker and waits for it to exit. On cancellation it
// TERMs the worker, escalating to KILL after the grace period.
func (l *Loop) runOnce(ctx context.Context) (int, error) {
	out := l.Output
	if out == nil {
		out = os.Stdout
	}

	var proc executor.Process
	var ptmx *os.File
	var err error

	if l.UsePTY {
		proc, ptmx, err = l.startPTY(out)
	} else {
		proc, err = l.exec().Start(l.Command, nil, out, out)
	}
	if err != nil {
		return -1, err
	}

	done := make(chan int, 1)
	go func() {
		code, _ := proc.Wait()
		done <- code
	}()

	select {
	case code := <-done:
		if ptmx != nil {
			ptmx.Close()
		}
		return code, nil
	case <-ctx.Done():
	}

	// Graceful shutdown: TERM, wait, then KILL.
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case code := <-done:
		if ptmx != nil {
			ptmx.Close()
		}
		return code, nil
	case <-time.After(l.grace()):
	}

	_ = proc.Kill()
	code := <-done
	if ptmx != nil {
		ptmx.Close()
	}
	return code, nil
}

// startPTY launches the worker on a PTY slave and pumps the master side
// into out.
func (l *Loop) startPTY(out io.Writer) (executor.Process, *os.File, error) {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, nil, err
	}

	proc, err := l.exec().StartPTY(l.Command, pts)
	// The child holds its own copy of the slave once started.
	pts.Close()
	if err != nil {
		ptmx.Close()
		return nil, nil, err
	}

	go func() {
		// EIO when the slave side closes; nothing to do about copy errors.
		_, _ = io.Copy(out, ptmx)
	}()

	return proc, ptmx, nil
}
