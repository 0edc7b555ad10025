package systemd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
)

// journalReader is the slice of sdjournal.Journal the log streamer needs.
type journalReader interface {
	AddMatch(match string) error
	Next() (uint64, error)
	GetEntry() (*sdjournal.JournalEntry, error)
	Wait(timeout time.Duration) int
	Close() error
}

func openSystemJournal() (journalReader, error) {
	return sdjournal.NewJournal()
}

// copyEntries drains available journal entries into w as timestamped lines.
func copyEntries(ctx context.Context, j journalReader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.Next()
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		if n == 0 {
			return nil
		}

		entry, err := j.GetEntry()
		if err != nil {
			continue
		}
		ts := time.Unix(int64(entry.RealtimeTimestamp/1000000), 0)
		fmt.Fprintf(w, "%s %s\n", ts.Format(time.Stamp), entry.Fields["MESSAGE"])
	}
}

// waitJournal blocks until the journal reports activity or ctx is done.
// sdjournal's Wait takes a timeout, not a context, so poll in slices.
func waitJournal(ctx context.Context, j journalReader) {
	for {
		if ctx.Err() != nil {
			return
		}
		if status := j.Wait(time.Second); status != sdjournal.SD_JOURNAL_NOP {
			return
		}
	}
}
