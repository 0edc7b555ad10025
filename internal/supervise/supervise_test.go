package supervise

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kuzco-tools/kuzcoctl/internal/executor"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer guards a bytes.Buffer for writes from the worker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLoopRelaunchesAfterExit(t *testing.T) {
	fake := executor.NewFakeExecutor()

	var launches atomic.Int32
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		launches.Add(1)
		// Exit immediately with a failure code; the loop must not care.
		return 7
	})

	loop := &Loop{
		Command:  []string{"kuzco", "worker", "start"},
		Delay:    time.Millisecond,
		Executor: fake,
		Output:   io.Discard,
		Log:      quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for launches.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected >= 3 launches, got %d", launches.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoopStopsRunningWorkerOnCancel(t *testing.T) {
	fake := executor.NewFakeExecutor()

	started := make(chan struct{}, 1)
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		started <- struct{}{}
		<-ctx.Done() // run until signalled
		return 0
	})

	loop := &Loop{
		Command:  []string{"kuzco", "worker", "start"},
		Delay:    time.Millisecond,
		Executor: fake,
		Output:   io.Discard,
		Log:      quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate the worker after cancel")
	}
}

func TestLoopSurfacesLaunchFailure(t *testing.T) {
	fake := executor.NewFakeExecutor() // nothing registered

	loop := &Loop{
		Command:  []string{"kuzco", "worker", "start"},
		Delay:    time.Millisecond,
		Executor: fake,
		Output:   io.Discard,
		Log:      quietLogger(),
	}

	err := loop.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected launch failure, got %v", err)
	}
}

func TestLoopForwardsWorkerOutput(t *testing.T) {
	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		io.WriteString(stdout, "inference ready\n")
		<-ctx.Done()
		return 0
	})

	var buf syncBuffer
	loop := &Loop{
		Command:  []string{"kuzco", "worker", "start"},
		Delay:    time.Millisecond,
		Executor: fake,
		Output:   &buf,
		Log:      quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !strings.Contains(buf.String(), "inference ready") {
		select {
		case <-deadline:
			t.Fatalf("worker output not forwarded: %q", buf.String())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
