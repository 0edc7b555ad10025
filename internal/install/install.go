// Package install performs the one-shot environment setup surrounding the
// worker: vendor CLI installation, CUDA and container toolkit packages, and
// timezone. Every step is an idempotent shell-out to the OS package manager
// or a vendor script; no state is retained here. A failed step is reported
// to the caller, who decides whether to continue. The menu does; direct
// subcommands exit non-zero.
package install

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/kuzco-tools/kuzcoctl/internal/dirs"
	"github.com/kuzco-tools/kuzcoctl/internal/executor"
)

// LockTimeout bounds waiting for another install run to finish.
var LockTimeout = 5 * time.Minute

// RetryLockPeriod is the pause between attempts to acquire the install lock.
var RetryLockPeriod = time.Second

// cudaKeyringURL is NVIDIA's apt keyring package for Ubuntu 22.04 x86_64.
const cudaKeyringURL = "https://developer.download.nvidia.com/compute/cuda/repos/ubuntu2204/x86_64/cuda-keyring_1.1-1_all.deb"

// Setup runs environment preparation steps.
type Setup struct {
	// Executor runs the package-manager and script commands.
	Executor executor.Executor

	// Client fetches remote install artifacts. Nil means http.DefaultClient.
	Client *http.Client

	// ScriptURL is the vendor CLI install script.
	ScriptURL string

	// WorkerBin is the binary the script is expected to leave on PATH.
	WorkerBin string

	// LockPath serializes concurrent install runs. Empty defaults to the
	// runtime dir.
	LockPath string

	// Output receives subprocess stdout/stderr. Nil means os.Stdout.
	Output io.Writer

	Log *slog.Logger
}

func (s *Setup) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Setup) exec() executor.Executor {
	if s.Executor != nil {
		return s.Executor
	}
	return executor.Default()
}

func (s *Setup) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

func (s *Setup) out() io.Writer {
	if s.Output != nil {
		return s.Output
	}
	return os.Stdout
}

// InstallCLI downloads the vendor install script and runs it through sh,
// then verifies the worker binary landed on PATH.
func (s *Setup) InstallCLI(ctx context.Context) error {
	if s.WorkerBin != "" && s.exec().LookPath(s.WorkerBin) {
		s.log().Info("worker CLI already installed", "binary", s.WorkerBin)
		return nil
	}

	scriptPath, err := s.download(ctx, s.ScriptURL, "kuzco-install.*.sh")
	if err != nil {
		return err
	}
	defer os.Remove(scriptPath)

	if err := s.runStep(ctx, "sh", scriptPath); err != nil {
		return errors.Wrap(err, "vendor install script failed")
	}

	if s.WorkerBin != "" && !s.exec().LookPath(s.WorkerBin) {
		return errors.Errorf("install script completed but %q is not on PATH", s.WorkerBin)
	}
	return nil
}

// InstallCUDA installs the CUDA toolkit through NVIDIA's apt repository.
// Serialized under the install lock so two runs don't interleave apt.
func (s *Setup) InstallCUDA(ctx context.Context) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	keyring, err := s.download(ctx, cudaKeyringURL, "cuda-keyring.*.deb")
	if err != nil {
		return err
	}
	defer os.Remove(keyring)

	steps := [][]string{
		{"dpkg", "-i", keyring},
		{"apt-get", "update"},
		{"apt-get", "install", "-y", "cuda-toolkit"},
	}
	for _, step := range steps {
		if err := s.runStep(ctx, step...); err != nil {
			return errors.Wrapf(err, "CUDA install step %q failed", step[0])
		}
	}
	return nil
}

// InstallContainerToolkit installs the NVIDIA container toolkit packages.
// Assumes the NVIDIA apt repository from InstallCUDA is configured.
func (s *Setup) InstallContainerToolkit(ctx context.Context) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	steps := [][]string{
		{"apt-get", "update"},
		{"apt-get", "install", "-y", "nvidia-container-toolkit"},
	}
	for _, step := range steps {
		if err := s.runStep(ctx, step...); err != nil {
			return errors.Wrapf(err, "container toolkit step %q failed", step[0])
		}
	}
	return nil
}

// SetTimezone sets the host timezone via timedatectl.
func (s *Setup) SetTimezone(ctx context.Context, tz string) error {
	if err := s.runStep(ctx, "timedatectl", "set-timezone", tz); err != nil {
		return errors.Wrapf(err, "setting timezone to %s", tz)
	}
	return nil
}

// download fetches url into a temp file matching pattern and returns its path.
func (s *Setup) download(ctx context.Context, url, pattern string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "building request for %s", url)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "downloading %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("downloading %s: HTTP %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", errors.Wrap(err, "creating temp file")
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "saving %s", url)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "closing temp file")
	}
	return tmp.Name(), nil
}

// runStep runs one command, streaming output, failing on non-zero exit.
func (s *Setup) runStep(ctx context.Context, argv ...string) error {
	s.log().Info("running setup step", "command", argv)
	proc, err := s.exec().Start(argv, nil, s.out(), s.out())
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
			return errors.Errorf("%s exited with code %d", argv[0], code)
		}
		return nil
	case <-ctx.Done():
		_ = proc.Kill()
		return ctx.Err()
	}
}

// acquireLock takes the shared install file lock, waiting up to LockTimeout.
func (s *Setup) acquireLock(ctx context.Context) (func(), error) {
	lockPath := s.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(dirs.RuntimeDir(), "install.lock")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating lock dir")
	}

	fl := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, RetryLockPeriod)
	if err != nil {
		return nil, errors.Wrapf(err, "acquiring install lock %s", lockPath)
	}
	if !ok {
		return nil, errors.Errorf("timed out waiting for install lock %s", lockPath)
	}
	return func() { _ = fl.Unlock() }, nil
}
