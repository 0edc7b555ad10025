package install

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kuzco-tools/kuzcoctl/internal/executor"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInstallCLIRunsDownloadedScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#!/bin/sh\necho installing\n")
	}))
	defer srv.Close()

	fake := executor.NewFakeExecutor()
	installed := false
	fake.RegisterCommand("sh", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		installed = true
		// Simulate the script dropping the binary on PATH.
		fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int { return 0 })
		return 0
	})

	s := &Setup{
		Executor:  fake,
		ScriptURL: srv.URL + "/install.sh",
		WorkerBin: "kuzco",
		Output:    io.Discard,
		Log:       quietLogger(),
	}
	if err := s.InstallCLI(t.Context()); err != nil {
		t.Fatalf("InstallCLI: %v", err)
	}
	if !installed {
		t.Fatal("install script was never run")
	}
}

func TestInstallCLISkipsWhenPresent(t *testing.T) {
	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("kuzco", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int { return 0 })

	s := &Setup{
		Executor:  fake,
		ScriptURL: "http://127.0.0.1:1/unreachable", // must not be fetched
		WorkerBin: "kuzco",
		Output:    io.Discard,
		Log:       quietLogger(),
	}
	if err := s.InstallCLI(t.Context()); err != nil {
		t.Fatalf("InstallCLI: %v", err)
	}
}

func TestInstallCLIFailsOnScriptError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#!/bin/sh\nexit 1\n")
	}))
	defer srv.Close()

	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("sh", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		return 1
	})

	s := &Setup{
		Executor:  fake,
		ScriptURL: srv.URL + "/install.sh",
		WorkerBin: "kuzco",
		Output:    io.Discard,
		Log:       quietLogger(),
	}
	err := s.InstallCLI(t.Context())
	if err == nil || !strings.Contains(err.Error(), "install script failed") {
		t.Fatalf("expected script failure, got %v", err)
	}
}

func TestInstallContainerToolkitStepOrder(t *testing.T) {
	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("apt-get", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		return 0
	})

	s := &Setup{
		Executor: fake,
		LockPath: filepath.Join(t.TempDir(), "install.lock"),
		Output:   io.Discard,
		Log:      quietLogger(),
	}
	if err := s.InstallContainerToolkit(t.Context()); err != nil {
		t.Fatalf("InstallContainerToolkit: %v", err)
	}

	starts := fake.Starts()
	if len(starts) != 2 {
		t.Fatalf("expected 2 apt-get invocations, got %v", starts)
	}
	if starts[0][1] != "update" {
		t.Fatalf("first step = %v, want apt-get update", starts[0])
	}
	if !strings.Contains(strings.Join(starts[1], " "), "nvidia-container-toolkit") {
		t.Fatalf("second step = %v", starts[1])
	}
}

func TestInstallContainerToolkitAbortsStepOnFailure(t *testing.T) {
	fake := executor.NewFakeExecutor()
	calls := 0
	fake.RegisterCommand("apt-get", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		calls++
		return 100 // apt failure
	})

	s := &Setup{
		Executor: fake,
		LockPath: filepath.Join(t.TempDir(), "install.lock"),
		Output:   io.Discard,
		Log:      quietLogger(),
	}
	err := s.InstallContainerToolkit(t.Context())
	if err == nil || !strings.Contains(err.Error(), "exited with code 100") {
		t.Fatalf("expected apt failure, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("later steps must not run after a failure, got %d calls", calls)
	}
}

func TestSetTimezone(t *testing.T) {
	fake := executor.NewFakeExecutor()
	fake.RegisterCommand("timedatectl", func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
		return 0
	})

	s := &Setup{Executor: fake, Output: io.Discard, Log: quietLogger()}
	if err := s.SetTimezone(t.Context(), "Etc/UTC"); err != nil {
		t.Fatalf("SetTimezone: %v", err)
	}
	starts := fake.Starts()
	if len(starts) != 1 || starts[0][2] != "Etc/UTC" {
		t.Fatalf("timedatectl argv = %v", starts)
	}
}
