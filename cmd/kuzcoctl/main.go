// kuzcoctl - install and supervise the Kuzco GPU inference worker
//
// Usage:
//
//	kuzcoctl                       Interactive menu (status on non-TTY)
//	kuzcoctl start                 Start the worker under the detected backend
//	kuzcoctl stop                  Stop the worker
//	kuzcoctl force-stop            Stop the worker, escalating to SIGKILL
//	kuzcoctl restart               Restart the worker
//	kuzcoctl status                Show worker status
//	kuzcoctl logs [-f]             Show (or follow) worker logs
//	kuzcoctl install               Install the vendor CLI
//	kuzcoctl install-cuda          Install CUDA toolkit packages
//	kuzcoctl install-toolkit       Install NVIDIA container toolkit
//	kuzcoctl set-timezone          Set the host timezone
//	kuzcoctl gpu                   Report GPU detection result
//	kuzcoctl credentials           Show (prompting if absent) worker credentials
//	kuzcoctl reset                 Forget saved worker credentials
//	kuzcoctl supervise             (internal) Run the crash-restart loop
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/kuzco-tools/kuzcoctl/internal/backend"
	_ "github.com/kuzco-tools/kuzcoctl/internal/backend/all"
	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/dirs"
	"github.com/kuzco-tools/kuzcoctl/internal/install"
	"github.com/kuzco-tools/kuzcoctl/internal/worker"
)

// Global flags
var (
	backendFlag      string
	workerBinFlag    string
	configDirFlag    string
	stateDirFlag     string
	restartDelayFlag time.Duration
	followFlag       bool
	timezoneFlag     string
)

func main() {
	// Handle "supervise" before flag parsing, since it has its own flags
	// that the global pflag set doesn't know about.
	if len(os.Args) >= 2 && os.Args[1] == "supervise" {
		cmdSupervise(os.Args[2:])
		return
	}

	flag.StringVar(&backendFlag, "backend", os.Getenv("KUZCOCTL_BACKEND"), "Backend: systemd, screen, raw (overrides KUZCOCTL_BACKEND)")
	flag.StringVar(&workerBinFlag, "worker-bin", worker.DefaultBinary, "Worker CLI binary name or path")
	flag.StringVar(&configDirFlag, "config-dir", dirs.ConfigDir(), "Directory holding worker credentials")
	flag.StringVar(&stateDirFlag, "state-dir", dirs.StateDir(), "Directory holding worker logs")
	flag.DurationVar(&restartDelayFlag, "restart-delay", 5*time.Second, "Delay before relaunching a crashed worker")
	flag.BoolVarP(&followFlag, "follow", "f", false, "Follow log output (logs)")
	flag.StringVar(&timezoneFlag, "timezone", "Etc/UTC", "Timezone for set-timezone")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `kuzcoctl - install and supervise the Kuzco GPU inference worker

Usage:
  kuzcoctl                       Interactive menu (status on non-TTY)
  kuzcoctl start                 Start the worker under the detected backend
  kuzcoctl stop                  Stop the worker
  kuzcoctl force-stop            Stop the worker, escalating to SIGKILL
  kuzcoctl restart               Restart the worker
  kuzcoctl status                Show worker status
  kuzcoctl logs [-f]             Show (or follow) worker logs
  kuzcoctl install               Install the vendor CLI
  kuzcoctl install-cuda          Install CUDA toolkit packages
  kuzcoctl install-toolkit       Install NVIDIA container toolkit
  kuzcoctl set-timezone          Set the host timezone
  kuzcoctl gpu                   Report GPU detection result
  kuzcoctl credentials           Show (prompting if absent) worker credentials
  kuzcoctl reset                 Forget saved worker credentials
  kuzcoctl supervise             (internal) Run the crash-restart loop

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			runMenu()
		} else {
			must(cmdStatus())
		}
		return
	}

	switch args[0] {
	case "start":
		must(cmdStart())
	case "stop":
		must(cmdStop(false))
	case "force-stop":
		must(cmdStop(true))
	case "restart":
		must(cmdRestart())
	case "status":
		must(cmdStatus())
	case "logs":
		must(cmdLogs(followFlag))
	case "install":
		must(cmdInstall())
	case "install-cuda":
		must(cmdInstallCUDA())
	case "install-toolkit":
		must(cmdInstallToolkit())
	case "set-timezone":
		must(cmdSetTimezone())
	case "gpu":
		cmdGPU()
	case "credentials":
		must(cmdCredentials())
	case "reset":
		must(cmdReset())
	case "menu":
		runMenu()
	default:
		fatal("unknown command %q (see kuzcoctl --help)", args[0])
	}
}

// must exits non-zero on error; direct subcommands are one-shot.
func must(err error) {
	if err != nil {
		fatal("%v", err)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// backendConfig assembles the backend configuration from global flags.
func backendConfig() backend.Config {
	cfg := backend.Config{
		Kind:         backend.Kind(backendFlag),
		StateDir:     stateDirFlag,
		WorkerBin:    workerBinFlag,
		RestartDelay: restartDelayFlag,
	}
	// The detached supervise process must read the same credentials file.
	if exe, err := os.Executable(); err == nil {
		cfg.SuperviseCommand = []string{exe, "supervise", "--config-dir", configDirFlag}
	}
	return cfg
}

// openBackend detects (or honors --backend) and opens the supervision backend.
func openBackend(ctx context.Context) (backend.Backend, error) {
	cfg := backendConfig()
	if cfg.Kind == "" {
		cfg.Kind = backend.DetectKind()
	}
	return backend.Open(ctx, cfg)
}

func credentialsPath() string {
	return config.DefaultPath(configDirFlag)
}

func newSetup() *install.Setup {
	return &install.Setup{
		ScriptURL: worker.InstallScriptURL,
		WorkerBin: workerBinFlag,
	}
}

func cmdStart() error {
	ctx, cancel := signalContext()
	defer cancel()

	creds, err := config.LoadOrPrompt(credentialsPath(), promptCredentials)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	bk, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer bk.Close()

	if err := bk.Start(ctx, creds); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	fmt.Printf("worker started (%s backend)\n", bk.Kind())
	return nil
}

func cmdStop(force bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	bk, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer bk.Close()

	if force {
		err = bk.ForceStop(ctx)
	} else {
		err = bk.Stop(ctx)
	}
	switch {
	case errors.Is(err, backend.ErrNotRunning):
		// Normal outcome, not a crash.
		fmt.Println("worker is not running")
		return nil
	case err != nil:
		return fmt.Errorf("stopping worker: %w", err)
	}
	fmt.Println("worker stopped")
	return nil
}

func cmdRestart() error {
	ctx, cancel := signalContext()
	defer cancel()

	creds, err := config.LoadOrPrompt(credentialsPath(), promptCredentials)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	bk, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer bk.Close()

	if err := bk.Restart(ctx, creds); err != nil {
		return fmt.Errorf("restarting worker: %w", err)
	}
	fmt.Printf("worker restarted (%s backend)\n", bk.Kind())
	return nil
}

func cmdStatus() error {
	ctx, cancel := signalContext()
	defer cancel()

	bk, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer bk.Close()

	st, err := bk.Status(ctx)
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}
	fmt.Print(renderStatus(st))
	return nil
}

func cmdLogs(follow bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	bk, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer bk.Close()

	if err := bk.Logs(ctx, follow, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading logs: %w", err)
	}
	return nil
}

func cmdInstall() error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newSetup().InstallCLI(ctx); err != nil {
		return fmt.Errorf("installing worker CLI: %w", err)
	}
	fmt.Println("worker CLI installed")
	return nil
}

func cmdInstallCUDA() error {
	ctx, cancel := signalContext()
	defer cancel()

	if !install.HasNvidiaGPU() {
		fmt.Fprintln(os.Stderr, "warning: no NVIDIA GPU detected, installing anyway")
	}
	if err := newSetup().InstallCUDA(ctx); err != nil {
		return fmt.Errorf("installing CUDA: %w", err)
	}
	fmt.Println("CUDA toolkit installed")
	return nil
}

func cmdInstallToolkit() error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newSetup().InstallContainerToolkit(ctx); err != nil {
		return fmt.Errorf("installing container toolkit: %w", err)
	}
	fmt.Println("NVIDIA container toolkit installed")
	return nil
}

func cmdSetTimezone() error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newSetup().SetTimezone(ctx, timezoneFlag); err != nil {
		return fmt.Errorf("setting timezone: %w", err)
	}
	fmt.Printf("timezone set to %s\n", timezoneFlag)
	return nil
}

func cmdGPU() {
	if install.HasNvidiaGPU() {
		fmt.Println("NVIDIA GPU detected")
		if !install.DriverInstalled() {
			fmt.Println("nvidia-smi not found: drivers are missing (run install-cuda)")
		}
		return
	}
	fmt.Println("no NVIDIA GPU detected")
}

func cmdCredentials() error {
	creds, err := config.LoadOrPrompt(credentialsPath(), promptCredentials)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	fmt.Printf("worker id: %s\n", creds.WorkerID)
	fmt.Printf("file:      %s\n", credentialsPath())
	return nil
}

func cmdReset() error {
	if err := config.Reset(credentialsPath()); err != nil {
		return fmt.Errorf("resetting credentials: %w", err)
	}
	fmt.Println("worker credentials removed")
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "kuzcoctl: "+format+"\n", args...)
	os.Exit(1)
}
