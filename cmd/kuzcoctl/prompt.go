package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/kuzco-tools/kuzcoctl/internal/config"
)

// promptCredentials collects worker credentials interactively. Empty values
// are rejected in the form itself, so what comes back always validates.
func promptCredentials() (config.Credentials, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return promptCredentialsPlain()
	}

	var creds config.Credentials
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Worker ID").
				Description("Find it on your Kuzco dashboard under Workers").
				Validate(nonEmpty("worker ID")).
				Value(&creds.WorkerID),
			huh.NewInput().
				Title("Registration code").
				Validate(nonEmpty("registration code")).
				Value(&creds.RegistrationCode),
		),
	)
	if err := form.Run(); err != nil {
		return config.Credentials{}, fmt.Errorf("credentials prompt: %w", err)
	}
	return creds, nil
}

func nonEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be empty", what)
		}
		return nil
	}
}

// promptCredentialsPlain is the non-TTY fallback (piped stdin, CI).
func promptCredentialsPlain() (config.Credentials, error) {
	reader := bufio.NewReader(os.Stdin)
	readField := func(label string) (string, error) {
		for {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", label, err)
			}
			line = strings.TrimSpace(line)
			if line != "" {
				return line, nil
			}
			fmt.Fprintf(os.Stderr, "%s must not be empty\n", label)
		}
	}

	id, err := readField("Worker ID")
	if err != nil {
		return config.Credentials{}, err
	}
	code, err := readField("Registration code")
	if err != nil {
		return config.Credentials{}, err
	}
	return config.Credentials{WorkerID: id, RegistrationCode: code}, nil
}
