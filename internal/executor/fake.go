package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
)

// FakeCommand is a function that simulates a command execution.
// It receives the command arguments, stdin, stdout, stderr and should return an exit code.
// The context is cancelled when the process should be killed.
type FakeCommand func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int

// FakeExecutor is a test implementation of Executor that runs registered fake commands.
type FakeExecutor struct {
	mu       sync.RWMutex
	commands map[string]FakeCommand
	starts   [][]string
}

// NewFakeExecutor creates a new FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		commands: make(map[string]FakeCommand),
	}
}

// RegisterCommand registers a fake command implementation.
// The name should match the first element of the command slice.
func (e *FakeExecutor) RegisterCommand(name string, handler FakeCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[name] = handler
}

// Starts returns a copy of every argv passed to Start, in order.
func (e *FakeExecutor) Starts() [][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][]string, len(e.starts))
	copy(out, e.starts)
	return out
}

// fakeProcess implements Process for FakeExecutor.
type fakeProcess struct {
	cancel   context.CancelFunc
	done     chan struct{}
	exitCode int
	mu       sync.Mutex
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

func (p *fakeProcess) Kill() error {
	p.cancel()
	return nil
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
		p.cancel()
	}
	return nil
}

// Start implements Executor.Start for FakeExecutor.
func (e *FakeExecutor) Start(cmdArgs []string, stdin io.Reader, stdout, stderr io.Writer) (Process, error) {
	if len(cmdArgs) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	e.mu.Lock()
	handler, ok := e.commands[cmdArgs[0]]
	if ok {
		e.starts = append(e.starts, append([]string(nil), cmdArgs...))
	}
	e.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("executable %q not found", cmdArgs[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	proc := &fakeProcess{
		cancel: cancel,
		done:   done,
	}

	go func() {
		exitCode := handler(ctx, stdin, stdout, stderr, cmdArgs)
		proc.mu.Lock()
		proc.exitCode = exitCode
		proc.mu.Unlock()
		close(done)
	}()

	return proc, nil
}

// StartPTY implements Executor.StartPTY for FakeExecutor.
// For testing, the slave file is used directly for I/O since there is no real PTY.
func (e *FakeExecutor) StartPTY(cmdArgs []string, slave *os.File) (Process, error) {
	if len(cmdArgs) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	e.mu.RLock()
	handler, ok := e.commands[cmdArgs[0]]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("executable %q not found", cmdArgs[0])
	}

	// Dup the slave fd since the caller will close it after Start returns
	newFd, err := syscall.Dup(int(slave.Fd()))
	if err != nil {
		return nil, fmt.Errorf("dup slave: %w", err)
	}
	slaveFile := os.NewFile(uintptr(newFd), "slave")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	proc := &fakeProcess{
		cancel: cancel,
		done:   done,
	}

	go func() {
		defer slaveFile.Close()

		exitCode := handler(ctx, slaveFile, slaveFile, slaveFile, cmdArgs)
		proc.mu.Lock()
		proc.exitCode = exitCode
		proc.mu.Unlock()
		close(done)
	}()

	return proc, nil
}

// LookPath reports whether a fake command is registered under name.
func (e *FakeExecutor) LookPath(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.commands[name]
	return ok
}
