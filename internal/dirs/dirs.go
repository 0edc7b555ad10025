// Package dirs provides standard directory resolution for kuzcoctl.
// It handles XDG base directories with appropriate fallbacks for
// hosts where the XDG variables aren't set (common under sudo).
package dirs

import (
	"os"
	"os/user"
	"path/filepath"
)

// ConfigDir returns the directory for durable configuration (credentials).
// Priority: $KUZCOCTL_CONFIG_DIR > $XDG_CONFIG_HOME/kuzcoctl > ~/.config/kuzcoctl
func ConfigDir() string {
	if v := os.Getenv("KUZCOCTL_CONFIG_DIR"); v != "" {
		return v
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "kuzcoctl")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", "kuzcoctl")
	}
	return filepath.Join(os.TempDir(), "kuzcoctl-config")
}

// StateDir returns the directory for persistent state data (worker logs).
// Priority: $KUZCOCTL_STATE_DIR > $XDG_STATE_HOME/kuzcoctl > ~/.local/state/kuzcoctl
func StateDir() string {
	if v := os.Getenv("KUZCOCTL_STATE_DIR"); v != "" {
		return v
	}
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "kuzcoctl")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "state", "kuzcoctl")
	}
	return filepath.Join(os.TempDir(), "kuzcoctl-state")
}

// RuntimeDir returns the directory for ephemeral runtime data (locks, PIDs).
// Priority: $KUZCOCTL_RUNTIME_DIR > best available runtime dir > $TMPDIR/kuzcoctl-$USER
func RuntimeDir() string {
	if v := os.Getenv("KUZCOCTL_RUNTIME_DIR"); v != "" {
		return v
	}

	if base := findRuntimeBase(); base != "" {
		return filepath.Join(base, "kuzcoctl")
	}

	// Fall back to temp dir with username suffix for uniqueness
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return filepath.Join(os.TempDir(), "kuzcoctl-"+username)
}

// findRuntimeBase finds the best available runtime directory base.
// On Linux this is typically /run/user/$UID.
func findRuntimeBase() string {
	// XDG_RUNTIME_DIR is set by systemd-logind on login sessions
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}

	currentUser, err := user.Current()
	if err != nil {
		return ""
	}

	candidates := []string{
		filepath.Join("/run/user", currentUser.Uid),
		filepath.Join("/var/run/user", currentUser.Uid),
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	return ""
}
