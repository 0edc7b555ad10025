// Package config owns the persisted worker credentials.
//
// Credentials live in a line-oriented KEY=VALUE file, one durable copy per
// user. The file is rewritten whole via a temp file and rename; there is a
// single writer at a time by construction (interactive, serial use).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Keys used in the credentials file.
const (
	keyWorkerID         = "WORKER_ID"
	keyRegistrationCode = "REGISTRATION_CODE"
)

// DefaultFileName is the credentials file name under the config dir.
const DefaultFileName = "worker.conf"

// ErrInvalid reports an empty worker ID or registration code.
var ErrInvalid = errors.New("worker ID and registration code must be non-empty")

// Credentials identify the worker with its remote service.
type Credentials struct {
	WorkerID         string
	RegistrationCode string
}

// Validate rejects credentials with an empty field.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.WorkerID) == "" || strings.TrimSpace(c.RegistrationCode) == "" {
		return ErrInvalid
	}
	return nil
}

// Load reads credentials from path. Returns os.ErrNotExist (wrapped) if the
// file is missing.
func Load(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	var creds Credentials
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = unquote(strings.TrimSpace(value))
		switch strings.TrimSpace(key) {
		case keyWorkerID:
			creds.WorkerID = value
		case keyRegistrationCode:
			creds.RegistrationCode = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, fmt.Errorf("reading credentials file: %w", err)
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("credentials file %s: %w", path, err)
	}
	return creds, nil
}

// Save validates creds and writes them to path, creating parent directories
// as needed. The write goes through a temp file and rename so a crash never
// leaves a half-written file behind.
func Save(path string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, DefaultFileName+".*")
	if err != nil {
		return fmt.Errorf("creating temp credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	content := fmt.Sprintf("%s=%s\n%s=%s\n",
		keyWorkerID, creds.WorkerID,
		keyRegistrationCode, creds.RegistrationCode)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting credentials mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// LoadOrPrompt loads credentials from path if present; otherwise it calls
// prompt until valid credentials are entered, persists them, and returns
// them. Errors from prompt abort without persisting anything.
func LoadOrPrompt(path string, prompt func() (Credentials, error)) (Credentials, error) {
	creds, err := Load(path)
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Credentials{}, err
	}

	creds, err = prompt()
	if err != nil {
		return Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	if err := Save(path, creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Reset removes the credentials file. Missing file is not an error.
func Reset(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// DefaultPath returns the credentials path under dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultFileName)
}

// unquote strips one level of matching double or single quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
