package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kuzco-tools/kuzcoctl/internal/config"
	"github.com/kuzco-tools/kuzcoctl/internal/dirs"
	"github.com/kuzco-tools/kuzcoctl/internal/supervise"
	"github.com/kuzco-tools/kuzcoctl/internal/worker"
)

// cmdSupervise runs the crash-restart loop in the foreground. It is launched
// by the screen and raw backends inside their detached session/process and
// is not meant to be invoked by hand.
func cmdSupervise(args []string) {
	fs := flag.NewFlagSet("supervise", flag.ExitOnError)
	workerBin := fs.String("worker-bin", worker.DefaultBinary, "Worker CLI binary name or path")
	configDir := fs.String("config-dir", dirs.ConfigDir(), "Directory holding worker credentials")
	logFile := fs.String("log-file", "", "Append worker output to this file instead of stdout")
	delay := fs.Duration("restart-delay", supervise.DefaultRestartDelay, "Delay before relaunching an exited worker")
	usePTY := fs.Bool("pty", false, "Run the worker under a PTY to keep line-buffered output")
	if err := fs.Parse(args); err != nil {
		fatal("supervise: %v", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	creds, err := config.Load(config.DefaultPath(*configDir))
	if err != nil {
		log.Error("cannot supervise without credentials", "error", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Error("opening log file", "path", *logFile, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	cli := &worker.CLI{Binary: *workerBin}

	loop := &supervise.Loop{
		Command: cli.StartArgs(creds),
		Delay:   *delay,
		UsePTY:  *usePTY,
		Output:  out,
		Log:     log,
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	log.Info("supervision starting",
		"worker", creds.WorkerID,
		"binary", *workerBin,
		"restart_delay", *delay)

	err = loop.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("supervision ended", "error", err, "uptime", time.Since(start))
		os.Exit(1)
	}
	log.Info("supervision stopped", "uptime", time.Since(start))
}
