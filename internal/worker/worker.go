// Package worker invokes the vendor-supplied kuzco CLI. The binary is an
// opaque collaborator: any non-zero exit is a failure signal, stdout and
// stderr are passed through or redirected by the caller.
package worker

import (
	"fmt"
	"io"

	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/executor"
)

// DefaultBinary is the vendor CLI name looked up on PATH.
const DefaultBinary = "kuzco"

// InstallScriptURL is the vendor's remote install script.
const InstallScriptURL = "https://inference.supply/install.sh"

// CLI builds and runs invocations of the vendor worker binary.
type CLI struct {
	// Binary is the executable name or path. Empty means DefaultBinary.
	Binary string

	Executor executor.Executor
}

// New returns a CLI using the default binary and executor.
func New() *CLI {
	return &CLI{Binary: DefaultBinary, Executor: executor.Default()}
}

func (c *CLI) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return DefaultBinary
}

func (c *CLI) exec() executor.Executor {
	if c.Executor != nil {
		return c.Executor
	}
	return executor.Default()
}

// Installed reports whether the worker binary resolves on PATH.
func (c *CLI) Installed() bool {
	return c.exec().LookPath(c.binary())
}

// StartArgs returns the argv for a foreground worker start.
func (c *CLI) StartArgs(creds config.Credentials) []string {
	return []string{
		c.binary(), "worker", "start",
		"--worker", creds.WorkerID,
		"--code", creds.RegistrationCode,
	}
}

// Run starts the worker in the foreground with the given stdio and blocks
// until it exits, returning the exit code.
func (c *CLI) Run(creds config.Credentials, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	proc, err := c.exec().Start(c.StartArgs(creds), stdin, stdout, stderr)
	if err != nil {
		return -1, fmt.Errorf("starting worker: %w", err)
	}
	return proc.Wait()
}

// Passthrough runs a worker subcommand (stop, status, logs, restart) with
// output attached to the given writers. A non-zero exit is returned as an
// error carrying the command name and code.
func (c *CLI) Passthrough(sub string, stdout, stderr io.Writer) error {
	proc, err := c.exec().Start([]string{c.binary(), "worker", sub}, nil, stdout, stderr)
	if err != nil {
		return fmt.Errorf("running %s worker %s: %w", c.binary(), sub, err)
	}
	code, err := proc.Wait()
	if err != nil {
		return fmt.Errorf("waiting for %s worker %s: %w", c.binary(), sub, err)
	}
	if code != 0 {
		return fmt.Errorf("%s worker %s exited with code %d", c.binary(), sub, code)
	}
	return nil
}
