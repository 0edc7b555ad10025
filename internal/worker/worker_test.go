package worker

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/executor"
)

func TestStartArgs(t *testing.T) {
	c := &CLI{Binary: "kuzco"}
	got := c.StartArgs(config.Credentials{WorkerID: "w1", RegistrationCode: "c1"})
	want := []string{"kuzco", "worker", "start", "--worker", "w1", "--code", "c1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StartArgs = %v, want %v", got, want)
	}
}

func TestRunReturnsExitCode(t *testing.T) {
	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		io.WriteString(stdout, "worker booting\n")
		return 3
	})

	c := &CLI{Binary: "kuzco", Executor: fake}
	var out bytes.Buffer
	code, err := c.Run(config.Credentials{WorkerID: "w", RegistrationCode: "c"}, nil, &out, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if !strings.Contains(out.String(), "worker booting") {
		t.Fatalf("stdout not captured: %q", out.String())
	}
}

func TestPassthroughFailure(t *testing.T) {
	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		return 1
	})

	c := &CLI{Binary: "kuzco", Executor: fake}
	err := c.Passthrough("stop", io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "exited with code 1") {
		t.Fatalf("expected exit-code error, got %v", err)
	}
}

func TestInstalled(t *testing.T) {
	fake := executor.NewFakeExecutor()
	c := &CLI{Binary: "kuzco", Executor: fake}
	if c.Installed() {
		t.Fatal("Installed should be false before registration")
	}
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int { return 0 })
	if !c.Installed() {
		t.Fatal("Installed should be true after registration")
	}
}
