// Package logtail streams a log file to a writer, optionally following
// appends. It is the log source for the screen and raw backends, which
// redirect worker output to a file.
package logtail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// tailBytes bounds how much history Dump and Follow replay.
const tailBytes = 64 * 1024

// pollInterval is the fallback cadence when fsnotify can't watch the dir.
const pollInterval = 500 * time.Millisecond

// Dump copies the last portion of the file at path to w.
func Dump(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	if err := seekTail(f); err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading log file: %w", err)
	}
	return nil
}

// Follow copies the tail of the file at path to w and then streams appended
// data until ctx is cancelled. Truncation (log rotation) resets the read
// offset to the new end of file.
func Follow(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	if err := seekTail(f); err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading log file: %w", err)
	}

	events, cleanup, err := watch(path)
	if err != nil {
		return err
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
		}

		if err := handleRotation(f, path); err != nil {
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("reading log file: %w", err)
		}
	}
}

// watch returns a channel that fires when path may have new data. It prefers
// fsnotify on the parent directory (catches rotation) and degrades to a
// ticker when watching fails.
func watch(path string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(filepath.Dir(path))
	}
	if err != nil {
		if watcher != nil {
			watcher.Close()
		}
		ticker := time.NewTicker(pollInterval)
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-ticker.C:
					notify(ch)
				case <-done:
					return
				}
			}
		}()
		return ch, func() { ticker.Stop(); close(done) }, nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == path {
					notify(ch)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, func() { watcher.Close() }, nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// seekTail positions f at most tailBytes before EOF.
func seekTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() > tailBytes {
		if _, err := f.Seek(-tailBytes, io.SeekEnd); err != nil {
			return fmt.Errorf("seeking log file: %w", err)
		}
	}
	return nil
}

// handleRotation rewinds f if the file shrank under our offset.
func handleRotation(f *os.File, path string) error {
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("seeking log file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // rotated away; next event re-reads
		}
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seeking log file: %w", err)
		}
	}
	return nil
}
