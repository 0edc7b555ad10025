package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuzco-tools/kuzcoctl/internal/backend"
	"github.com/kuzco-tools/kuzcoctl/internal/install"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	stoppedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// renderStatus formats a backend status for the terminal.
func renderStatus(st backend.Status) string {
	var state string
	if st.Running {
		state = runningStyle.Render("running")
	} else {
		state = stoppedStyle.Render("not running")
	}
	out := fmt.Sprintf("worker: %s  %s\n", state, dimStyle.Render("("+string(st.Backend)+" backend)"))
	if st.Running {
		if st.PID != 0 {
			out += fmt.Sprintf("  pid:    %d\n", st.PID)
		}
		if !st.Since.IsZero() {
			out += fmt.Sprintf("  uptime: %s\n", time.Since(st.Since).Round(time.Second))
		}
		if st.Detail != "" {
			out += fmt.Sprintf("  detail: %s\n", st.Detail)
		}
	}
	return out
}

// runMenu is the interactive numbered menu. Failed actions are reported and
// the menu continues; only Quit leaves the loop.
func runMenu() {
	fmt.Println(titleStyle.Render("kuzcoctl - Kuzco worker manager"))
	if install.HasNvidiaGPU() {
		fmt.Println(dimStyle.Render("NVIDIA GPU detected"))
	} else {
		fmt.Println(stoppedStyle.Render("warning: no NVIDIA GPU detected"))
	}

	for {
		fmt.Println()
		printMenuStatus()

		var choice string
		sel := huh.NewSelect[string]().
			Title("Choose an action").
			Options(
				huh.NewOption("1) Install worker CLI", "install"),
				huh.NewOption("2) Install CUDA toolkit", "install-cuda"),
				huh.NewOption("3) Install NVIDIA container toolkit", "install-toolkit"),
				huh.NewOption("4) Start worker", "start"),
				huh.NewOption("5) Stop worker", "stop"),
				huh.NewOption("6) Restart worker", "restart"),
				huh.NewOption("7) Worker status", "status"),
				huh.NewOption("8) View logs", "logs"),
				huh.NewOption("9) Reset credentials", "reset"),
				huh.NewOption("0) Quit", "quit"),
			).
			Value(&choice)
		if err := huh.NewForm(huh.NewGroup(sel)).Run(); err != nil {
			// Ctrl+C in the form is a normal exit.
			return
		}

		if choice == "quit" {
			return
		}
		runMenuAction(choice)
	}
}

// runMenuAction dispatches one menu choice. Unlike the direct subcommands,
// errors don't exit the process; the user lands back in the menu.
func runMenuAction(choice string) {
	var err error
	switch choice {
	case "install":
		err = cmdInstall()
	case "install-cuda":
		err = cmdInstallCUDA()
	case "install-toolkit":
		err = cmdInstallToolkit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop(false)
	case "restart":
		err = cmdRestart()
	case "status":
		err = cmdStatus()
	case "logs":
		// Follow until Ctrl+C, then return to the menu.
		err = cmdLogs(true)
	case "reset":
		err = cmdReset()
	}
	if err != nil {
		menuError(err)
	}
}

func printMenuStatus() {
	ctx, cancel := signalContext()
	defer cancel()

	bk, err := openBackend(ctx)
	if err != nil {
		fmt.Println(dimStyle.Render("status unavailable: " + err.Error()))
		return
	}
	defer bk.Close()

	st, err := bk.Status(ctx)
	if err != nil {
		fmt.Println(dimStyle.Render("status unavailable: " + err.Error()))
		return
	}
	fmt.Print(renderStatus(st))
}

func menuError(err error) {
	fmt.Fprintln(os.Stderr, stoppedStyle.Render(err.Error()))
}
