package backend

import "testing"

func boolProbe(v bool) func() bool { return func() bool { return v } }

func TestDetectOrder(t *testing.T) {
	cases := []struct {
		name    string
		systemd bool
		screen  bool
		want    Kind
	}{
		{"systemd wins", true, true, KindSystemd},
		{"systemd without screen", true, false, KindSystemd},
		{"screen fallback", false, true, KindScreen},
		{"raw last resort", false, false, KindRaw},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := detectWith(Probes{
				SystemdAvailable: boolProbe(tc.systemd),
				ScreenAvailable:  boolProbe(tc.screen),
			})
			if got != tc.want {
				t.Fatalf("detectWith = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{Kind: KindRaw})
	if cfg.WorkerBin != "kuzco" {
		t.Fatalf("WorkerBin = %q", cfg.WorkerBin)
	}
	if cfg.UnitName != "kuzco.service" {
		t.Fatalf("UnitName = %q", cfg.UnitName)
	}
	if cfg.SessionName != "kuzco" {
		t.Fatalf("SessionName = %q", cfg.SessionName)
	}
	if cfg.RestartDelay <= 0 {
		t.Fatalf("RestartDelay = %v", cfg.RestartDelay)
	}
	if cfg.StateDir == "" || cfg.RuntimeDir == "" {
		t.Fatal("state/runtime dirs not defaulted")
	}
	if len(cfg.SuperviseCommand) == 0 {
		t.Fatal("SuperviseCommand not defaulted")
	}
}

func TestOpenUnknownKind(t *testing.T) {
	if _, err := Open(t.Context(), Config{Kind: Kind("tmux")}); err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}
