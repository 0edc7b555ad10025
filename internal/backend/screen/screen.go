// Package screen supervises the worker inside a detached screen(1) session.
// The session runs our own supervise subcommand, which relaunches the worker
// after every exit; killing the session is the only way to end supervision.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/kuzco-tools/kuzcoctl/internal/backend"
	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/executor"
	"github.com/kuzco-tools/kuzcoctl/internal/logtail"
)

func init() {
	backend.Register(backend.KindScreen, func(ctx context.Context, cfg backend.Config) (backend.Backend, error) {
		exe := executor.Default()
		if !exe.LookPath("screen") {
			return nil, fmt.Errorf("screen is not installed")
		}
		return &Backend{cfg: cfg, exec: exe, log: slog.Default()}, nil
	})
}

// Backend wraps screen(1) through the executor.
type Backend struct {
	cfg  backend.Config
	exec executor.Executor
	log  *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Kind() backend.Kind { return backend.KindScreen }

func (b *Backend) Close() error { return nil }

// session is one row of `screen -ls`.
type session struct {
	PID   int
	Name  string
	State string // "Detached", "Attached", "Dead"
}

// Start tears down any stale session with our name, then launches a fresh
// detached session running the supervise loop. Stale-session cleanup makes
// Start idempotent.
func (b *Backend) Start(ctx context.Context, creds config.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if len(b.cfg.SuperviseCommand) == 0 {
		return fmt.Errorf("supervise command is not configured")
	}

	if ses, err := b.findSession(ctx); err == nil && ses != nil {
		b.log.Info("replacing stale session", "session", ses.Name, "pid", ses.PID)
		if err := b.quitSession(ctx); err != nil {
			return err
		}
	}
	b.wipeSessions(ctx)

	if err := os.MkdirAll(b.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	argv := []string{"screen", "-dmS", b.cfg.SessionName}
	argv = append(argv, b.cfg.SuperviseCommand...)
	argv = append(argv,
		"--worker-bin", b.cfg.WorkerBin,
		"--restart-delay", b.cfg.RestartDelay.String(),
		"--log-file", b.cfg.LogPath(),
	)

	if err := b.run(ctx, argv, nil); err != nil {
		return fmt.Errorf("launching screen session: %w", err)
	}
	b.log.Info("worker session started", "session", b.cfg.SessionName)
	return nil
}

// Stop terminates the named session and wipes its socket artifact.
func (b *Backend) Stop(ctx context.Context) error {
	ses, err := b.findSession(ctx)
	if err != nil {
		return err
	}
	if ses == nil {
		return backend.ErrNotRunning
	}
	if err := b.quitSession(ctx); err != nil {
		return err
	}
	b.wipeSessions(ctx)
	return nil
}

// ForceStop is the same as Stop: quitting the session kills its children.
func (b *Backend) ForceStop(ctx context.Context) error {
	return b.Stop(ctx)
}

// Restart is stop+start, accepting the brief downtime between the two.
func (b *Backend) Restart(ctx context.Context, creds config.Credentials) error {
	if err := b.Stop(ctx); err != nil && err != backend.ErrNotRunning {
		return err
	}
	return b.Start(ctx, creds)
}

// Status reports whether the named session is alive.
func (b *Backend) Status(ctx context.Context) (backend.Status, error) {
	ses, err := b.findSession(ctx)
	if err != nil {
		return backend.Status{}, err
	}
	st := backend.Status{Backend: backend.KindScreen}
	if ses != nil && ses.State != "Dead" {
		st.Running = true
		st.PID = uint32(ses.PID)
		st.Detail = fmt.Sprintf("%d.%s (%s)", ses.PID, ses.Name, ses.State)
	}
	return st, nil
}

// Logs tails the session's log file.
func (b *Backend) Logs(ctx context.Context, follow bool, w io.Writer) error {
	if follow {
		return logtail.Follow(ctx, b.cfg.LogPath(), w)
	}
	return logtail.Dump(b.cfg.LogPath(), w)
}

func (b *Backend) quitSession(ctx context.Context) error {
	if err := b.run(ctx, []string{"screen", "-S", b.cfg.SessionName, "-X", "quit"}, nil); err != nil {
		return fmt.Errorf("quitting session %s: %w", b.cfg.SessionName, err)
	}
	return nil
}

// wipeSessions removes dead session sockets. Best-effort; screen -wipe exits
// non-zero when there is nothing to wipe.
func (b *Backend) wipeSessions(ctx context.Context) {
	_ = b.run(ctx, []string{"screen", "-wipe"}, nil)
}

// findSession returns our named session, or nil when absent.
func (b *Backend) findSession(ctx context.Context) (*session, error) {
	var out bytes.Buffer
	// screen -ls exits 1 when no sessions exist; only the output matters.
	_ = b.run(ctx, []string{"screen", "-ls"}, &out)

	for _, ses := range parseSessionList(out.String()) {
		if ses.Name == b.cfg.SessionName {
			s := ses
			return &s, nil
		}
	}
	return nil, nil
}

// run executes argv via the executor, collecting stdout into out if non-nil.
func (b *Backend) run(ctx context.Context, argv []string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	proc, err := b.exec.Start(argv, nil, out, out)
	if err != nil {
		return err
	}

	done := make(chan int, 1)
	go func() {
		code, _ := proc.Wait()
		done <- code
	}()

	select {
	case code := <-done:
		if code != 0 {
			return fmt.Errorf("%s exited with code %d", argv[0], code)
		}
		return nil
	case <-ctx.Done():
		_ = proc.Kill()
		return ctx.Err()
	}
}

// parseSessionList parses `screen -ls` output. Session rows are indented
// and look like "\t3620.kuzco\t(Detached)".
func parseSessionList(out string) []session {
	var sessions []session
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pidStr, name, ok := strings.Cut(fields[0], ".")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		state := ""
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "(") && strings.HasSuffix(f, ")") {
				state = strings.Trim(f, "()")
			}
		}
		sessions = append(sessions, session{PID: pid, Name: name, State: state})
	}
	return sessions
}
