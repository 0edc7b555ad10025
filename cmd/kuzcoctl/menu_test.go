package main

import (
	"strings"
	"testing"
	"time"

	"github.com/kuzco-tools/kuzcoctl/internal/backend"
)

func TestRenderStatusRunning(t *testing.T) {
	out := renderStatus(backend.Status{
		Running: true,
		Backend: backend.KindSystemd,
		PID:     1234,
		Since:   time.Now().Add(-time.Minute),
		Detail:  "active",
	})
	for _, want := range []string{"running", "systemd", "1234", "uptime", "active"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatusStopped(t *testing.T) {
	out := renderStatus(backend.Status{Backend: backend.KindScreen})
	if !strings.Contains(out, "not running") {
		t.Errorf("output missing stopped state:\n%s", out)
	}
	if strings.Contains(out, "pid") || strings.Contains(out, "uptime") {
		t.Errorf("stopped status should not report pid or uptime:\n%s", out)
	}
}
