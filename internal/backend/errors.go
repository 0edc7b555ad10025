package backend

import "errors"

// ErrNotRunning reports that stop/restart found nothing to act on.
// Callers log it and continue; it is not a crash condition.
var ErrNotRunning = errors.New("worker is not running")
