// Package systemd supervises the worker through the externally-authored
// kuzco.service unit. The unit file is probed, never written; restart policy
// is whatever the unit declares.
package systemd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	sddbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/kuzco-tools/kuzcoctl/internal/backend"
	"github.com/kuzco-tools/kuzcoctl/internal/config"
)

func init() {
	backend.Register(backend.KindSystemd, func(ctx context.Context, cfg backend.Config) (backend.Backend, error) {
		conn, err := sddbus.NewSystemConnectionContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("connecting to systemd: %w", err)
		}
		return &Backend{cfg: cfg, conn: conn, log: slog.Default()}, nil
	})
}

// conn is the slice of go-systemd's dbus.Conn the backend uses.
// Narrowed so tests can substitute a fake.
type conn interface {
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []sddbus.EnableUnitFileChange, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit, unitType string) (map[string]interface{}, error)
	Close()
}

// Backend drives kuzco.service over D-Bus.
type Backend struct {
	cfg  backend.Config
	conn conn
	log  *slog.Logger

	// openJournal is swapped in tests.
	openJournal func() (journalReader, error)
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Kind() backend.Kind { return backend.KindSystemd }

func (b *Backend) Close() error {
	b.conn.Close()
	return nil
}

// Start enables and starts the unit. Credentials are not passed on the
// command line here; the unit's ExecStart reads the persisted credentials
// file, so Start only requires that they exist.
func (b *Backend) Start(ctx context.Context, creds config.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	// Enable may fail for transient or masked units; starting still works.
	if _, _, err := b.conn.EnableUnitFilesContext(ctx, []string{b.cfg.UnitName}, false, true); err != nil {
		b.log.Debug("enable unit failed, continuing", "unit", b.cfg.UnitName, "error", err)
	}

	return b.runJob(ctx, "start", b.conn.StartUnitContext)
}

// Stop stops the unit. An already-inactive unit yields ErrNotRunning.
func (b *Backend) Stop(ctx context.Context) error {
	st, err := b.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Running {
		return backend.ErrNotRunning
	}
	return b.runJob(ctx, "stop", b.conn.StopUnitContext)
}

// ForceStop has no extra escalation under systemd; the manager already
// follows TERM with KILL on its own timeout.
func (b *Backend) ForceStop(ctx context.Context) error {
	return b.Stop(ctx)
}

// Restart delegates to the manager's restart, falling back to stop+start
// when the restart job itself fails.
func (b *Backend) Restart(ctx context.Context, creds config.Credentials) error {
	if err := b.runJob(ctx, "restart", b.conn.RestartUnitContext); err != nil {
		b.log.Warn("unit restart failed, falling back to stop+start", "error", err)
		if stopErr := b.Stop(ctx); stopErr != nil && stopErr != backend.ErrNotRunning {
			return stopErr
		}
		return b.Start(ctx, creds)
	}
	return nil
}

// Status reports the unit's active state. A missing unit is a normal
// not-running result.
func (b *Backend) Status(ctx context.Context) (backend.Status, error) {
	props, err := b.conn.GetUnitPropertiesContext(ctx, b.cfg.UnitName)
	if err != nil {
		return backend.Status{}, fmt.Errorf("querying unit %s: %w", b.cfg.UnitName, err)
	}

	st := backend.Status{Backend: backend.KindSystemd}
	active, _ := props["ActiveState"].(string)
	st.Detail = active
	st.Running = active == "active" || active == "activating"

	if ts, ok := props["ActiveEnterTimestamp"].(uint64); ok && ts > 0 {
		st.Since = time.Unix(int64(ts/1000000), int64((ts%1000000)*1000))
	}

	// Service-type properties; absent for units that aren't loaded.
	if svc, err := b.conn.GetUnitTypePropertiesContext(ctx, b.cfg.UnitName, "Service"); err == nil {
		if pid, ok := svc["MainPID"].(uint32); ok {
			st.PID = pid
		}
	}

	return st, nil
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// runJob submits a unit job and blocks until the manager reports a result.
func (b *Backend) runJob(ctx context.Context, verb string, f jobFunc) error {
	resultChan := make(chan string, 1)
	if _, err := f(ctx, b.cfg.UnitName, "replace", resultChan); err != nil {
		return fmt.Errorf("%s unit %s: %w", verb, b.cfg.UnitName, err)
	}

	select {
	case result := <-resultChan:
		if result != "done" {
			return fmt.Errorf("%s job for %s failed: %s", verb, b.cfg.UnitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logs streams the unit's journal entries to w.
func (b *Backend) Logs(ctx context.Context, follow bool, w io.Writer) error {
	open := b.openJournal
	if open == nil {
		open = openSystemJournal
	}
	j, err := open()
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer j.Close()

	if err := j.AddMatch("_SYSTEMD_UNIT=" + b.cfg.UnitName); err != nil {
		return fmt.Errorf("filtering journal by unit: %w", err)
	}

	if err := copyEntries(ctx, j, w); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		waitJournal(ctx, j)
		if err := copyEntries(ctx, j, w); err != nil {
			return err
		}
	}
}
