// Package backend selects and drives the OS mechanism that keeps the worker
// running: a systemd unit, a detached screen session, or a raw background
// process. Exactly one backend is chosen per invocation; the choice is
// re-derived from the environment every run and never persisted.
package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/dirs"
	"github.com/kuzco-tools/kuzcoctl/internal/supervise"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindSystemd Kind = "systemd"
	KindScreen  Kind = "screen"
	KindRaw     Kind = "raw"
)

// Config configures a backend implementation.
type Config struct {
	Kind Kind

	// StateDir holds worker logs. Defaults to dirs.StateDir().
	StateDir string

	// RuntimeDir holds locks and PID files. Defaults to dirs.RuntimeDir().
	RuntimeDir string

	// WorkerBin is the vendor CLI name or path.
	WorkerBin string

	// UnitName is the externally-authored systemd unit. We probe it,
	// never write it.
	UnitName string

	// SessionName names the screen session.
	SessionName string

	// RestartDelay is the supervise-loop restart delay.
	RestartDelay time.Duration

	// SuperviseCommand is how to run the crash-restart loop out of
	// process (usually {selfExe, "supervise", ...}).
	SuperviseCommand []string
}

// Status is the backend-neutral probe result. Absence of the worker is a
// normal result, not an error.
type Status struct {
	Running bool
	Backend Kind

	// Detail is a backend-specific state string (systemd ActiveState,
	// screen session line, process command line).
	Detail string

	PID   uint32
	Since time.Time
}

// Backend drives the worker lifecycle through one OS mechanism.
type Backend interface {
	Close() error

	Start(ctx context.Context, creds config.Credentials) error
	Stop(ctx context.Context) error
	// ForceStop escalates to SIGKILL where the backend supports it;
	// elsewhere it behaves like Stop.
	ForceStop(ctx context.Context) error
	Restart(ctx context.Context, creds config.Credentials) error
	Status(ctx context.Context) (Status, error)

	// Logs streams the backend's log source to w. With follow set it
	// blocks until ctx is cancelled.
	Logs(ctx context.Context, follow bool, w io.Writer) error

	Kind() Kind
}

type opener func(ctx context.Context, cfg Config) (Backend, error)

var openers = map[Kind]opener{}

// Register makes a backend implementation available to Open.
// Implementations should call this from init().
func Register(kind Kind, o opener) {
	if kind == "" {
		panic("backend: register with empty kind")
	}
	if o == nil {
		panic("backend: register with nil opener")
	}
	if _, exists := openers[kind]; exists {
		panic("backend: duplicate register for kind " + string(kind))
	}
	openers[kind] = o
}

// Open constructs a backend from cfg. The requested Kind must be registered.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	cfg = withDefaults(cfg)
	o, ok := openers[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
	return o(ctx, cfg)
}

// Probes are the environment capabilities DetectKind consults.
type Probes struct {
	SystemdAvailable func() bool
	ScreenAvailable  func() bool
}

// DetectKind returns the appropriate backend based on environment:
// systemd if reachable over D-Bus, else screen if installed, else raw.
func DetectKind() Kind {
	return detectWith(Probes{
		SystemdAvailable: hasSystemd,
		ScreenAvailable:  hasScreen,
	})
}

func detectWith(p Probes) Kind {
	if p.SystemdAvailable != nil && p.SystemdAvailable() {
		return KindSystemd
	}
	if p.ScreenAvailable != nil && p.ScreenAvailable() {
		return KindScreen
	}
	return KindRaw
}

// hasSystemd checks if a systemd instance is reachable. It connects to the
// system bus and asks whether org.freedesktop.systemd1 has an owner, which
// correctly handles non-systemd hosts that still run a D-Bus daemon.
func hasSystemd() bool {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	var owner string
	err = conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus").
		Call("org.freedesktop.DBus.GetNameOwner", 0, "org.freedesktop.systemd1").
		Store(&owner)

	return err == nil && owner != ""
}

func hasScreen() bool {
	_, err := exec.LookPath("screen")
	return err == nil
}

// Default constructs the backend selected by KUZCOCTL_BACKEND, or
// auto-detects based on environment if not set.
func Default(ctx context.Context) (Backend, error) {
	kind := Kind(os.Getenv("KUZCOCTL_BACKEND"))
	if kind == "" {
		kind = DetectKind()
	}
	return Open(ctx, Config{Kind: kind})
}

func withDefaults(cfg Config) Config {
	if cfg.Kind == "" {
		cfg.Kind = DetectKind()
	}
	if cfg.StateDir == "" {
		cfg.StateDir = dirs.StateDir()
	}
	if cfg.RuntimeDir == "" {
		cfg.RuntimeDir = dirs.RuntimeDir()
	}
	if cfg.WorkerBin == "" {
		cfg.WorkerBin = "kuzco"
	}
	if cfg.UnitName == "" {
		cfg.UnitName = "kuzco.service"
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "kuzco"
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = supervise.DefaultRestartDelay
	}
	if len(cfg.SuperviseCommand) == 0 {
		if exe, err := os.Executable(); err == nil {
			cfg.SuperviseCommand = []string{exe, "supervise"}
		}
	}
	return cfg
}

// LogPath returns the worker log file under the state dir. The screen and
// raw backends both write here; systemd logs go to the journal instead.
func (c Config) LogPath() string {
	return filepath.Join(c.StateDir, "worker.log")
}
