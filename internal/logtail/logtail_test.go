package logtail

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var buf bytes.Buffer
	if err := Dump(path, &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if got := buf.String(); got != "line one\nline two\n" {
		t.Fatalf("Dump output = %q", got)
	}
}

func TestDumpMissingFile(t *testing.T) {
	err := Dump(filepath.Join(t.TempDir(), "none.log"), &bytes.Buffer{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestFollowStreamsAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.log")
	if err := os.WriteFile(path, []byte("boot\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf syncBuffer
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, path, &buf) }()

	// Give Follow a moment to drain the existing tail and arm the watcher.
	deadline := time.After(3 * time.Second)
	for !strings.Contains(buf.String(), "boot") {
		select {
		case <-deadline:
			t.Fatalf("initial tail never arrived: %q", buf.String())
		case <-time.After(5 * time.Millisecond):
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("inference started\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	for !strings.Contains(buf.String(), "inference started") {
		select {
		case <-deadline:
			t.Fatalf("appended line never arrived: %q", buf.String())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Follow returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}
