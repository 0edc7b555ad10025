// Package raw supervises the worker as a plain detached background process.
// It is the last-resort backend for hosts with neither systemd nor screen.
// The detached process runs the same supervise loop as the screen backend,
// so crash-restart behavior is identical across the two.
package raw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/kuzco-tools/kuzcoctl/internal/backend"
	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/logtail"
)

func init() {
	backend.Register(backend.KindRaw, func(ctx context.Context, cfg backend.Config) (backend.Backend, error) {
		return &Backend{
			cfg:  cfg,
			log:  slog.Default(),
			list: listProcesses,
			kill: unix.Kill,
		}, nil
	})
}

// procInfo is the slice of process state the backend needs.
type procInfo struct {
	PID     int32
	Cmdline []string
	Started time.Time
}

// Backend finds and signals the supervise process by command-line pattern.
type Backend struct {
	cfg backend.Config
	log *slog.Logger

	// list and kill are swapped in tests.
	list func(ctx context.Context) ([]procInfo, error)
	kill func(pid int, sig syscall.Signal) error

	// spawn launches the detached supervise process. Nil means spawnDetached.
	spawn func(argv []string, logPath string) (int, error)
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Kind() backend.Kind { return backend.KindRaw }

func (b *Backend) Close() error { return nil }

// Start terminates any previous supervise process (idempotent cleanup) and
// launches a new detached one running the crash-restart loop.
func (b *Backend) Start(ctx context.Context, creds config.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if len(b.cfg.SuperviseCommand) == 0 {
		return fmt.Errorf("supervise command is not configured")
	}

	if p, err := b.findSupervisor(ctx); err != nil {
		return err
	} else if p != nil {
		b.log.Info("replacing running supervisor", "pid", p.PID)
		if err := b.signalGroup(p.PID, syscall.SIGTERM); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(b.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	argv := append([]string{}, b.cfg.SuperviseCommand...)
	argv = append(argv,
		"--worker-bin", b.cfg.WorkerBin,
		"--restart-delay", b.cfg.RestartDelay.String(),
		"--log-file", b.cfg.LogPath(),
	)

	spawn := b.spawn
	if spawn == nil {
		spawn = spawnDetached
	}
	pid, err := spawn(argv, b.cfg.LogPath())
	if err != nil {
		return fmt.Errorf("launching supervisor: %w", err)
	}
	b.log.Info("worker supervisor started", "pid", pid)
	return nil
}

// Stop TERMs the supervise process group, taking the worker down with it.
func (b *Backend) Stop(ctx context.Context) error {
	return b.stop(ctx, syscall.SIGTERM)
}

// ForceStop escalates to SIGKILL. Only invoked on explicit request.
func (b *Backend) ForceStop(ctx context.Context) error {
	return b.stop(ctx, syscall.SIGKILL)
}

func (b *Backend) stop(ctx context.Context, sig syscall.Signal) error {
	p, err := b.findSupervisor(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return backend.ErrNotRunning
	}
	return b.signalGroup(p.PID, sig)
}

// Restart is stop+start, accepting the brief downtime between the two.
func (b *Backend) Restart(ctx context.Context, creds config.Credentials) error {
	if err := b.Stop(ctx); err != nil && err != backend.ErrNotRunning {
		return err
	}
	return b.Start(ctx, creds)
}

// Status reports the supervise process found by pattern match. Absence is a
// normal not-running result.
func (b *Backend) Status(ctx context.Context) (backend.Status, error) {
	p, err := b.findSupervisor(ctx)
	if err != nil {
		return backend.Status{}, err
	}
	st := backend.Status{Backend: backend.KindRaw}
	if p != nil {
		st.Running = true
		st.PID = uint32(p.PID)
		st.Since = p.Started
		st.Detail = strings.Join(p.Cmdline, " ")
	}
	return st, nil
}

// Logs tails the supervisor's log file.
func (b *Backend) Logs(ctx context.Context, follow bool, w io.Writer) error {
	if follow {
		return logtail.Follow(ctx, b.cfg.LogPath(), w)
	}
	return logtail.Dump(b.cfg.LogPath(), w)
}

// findSupervisor scans the process table for our supervise invocation.
func (b *Backend) findSupervisor(ctx context.Context) (*procInfo, error) {
	procs, err := b.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning processes: %w", err)
	}
	self := os.Getpid()
	for _, p := range procs {
		if int(p.PID) == self {
			continue
		}
		if b.matches(p.Cmdline) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// matches reports whether argv is our supervise process: same executable
// base name plus the supervise subcommand.
func (b *Backend) matches(argv []string) bool {
	if len(argv) < 2 || len(b.cfg.SuperviseCommand) == 0 {
		return false
	}
	base := argv[0]
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	want := b.cfg.SuperviseCommand[0]
	if i := strings.LastIndexByte(want, '/'); i >= 0 {
		want = want[i+1:]
	}
	if base != want {
		return false
	}
	for _, a := range argv[1:] {
		if a == "supervise" {
			return true
		}
	}
	return false
}

// signalGroup signals the supervisor's process group (it is a session
// leader, so -pid reaches the worker too), falling back to the single pid.
func (b *Backend) signalGroup(pid int32, sig syscall.Signal) error {
	if err := b.kill(-int(pid), sig); err == nil {
		return nil
	}
	if err := b.kill(int(pid), sig); err != nil {
		return fmt.Errorf("signalling pid %d: %w", pid, err)
	}
	return nil
}

// listProcesses adapts gopsutil to procInfo.
func listProcesses(ctx context.Context) ([]procInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]procInfo, 0, len(procs))
	for _, p := range procs {
		argv, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(argv) == 0 {
			continue // exited or inaccessible; skip
		}
		info := procInfo{PID: p.Pid, Cmdline: argv}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			info.Started = time.UnixMilli(ms)
		}
		out = append(out, info)
	}
	return out, nil
}

// spawnDetached launches argv as a detached session leader with stdout and
// stderr appended to logPath.
func spawnDetached(argv []string, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// Reap the child when it eventually exits so it doesn't zombie while
	// this menu process is still alive.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}
