// Package journal reads the local systemd journal and turns its records
// into LogEvents for the batcher.
//
// # Journal Lifecycle
//
//  1. Open the journal over all files: system and user units, persistent
//     and runtime storage, local and remote scopes.
//  2. Seek to the tail, so only records written after startup are read.
//  3. Block waiting for new entries; on each one, parse and enqueue it.
//
// A record with no MESSAGE field is dropped. _COMM defaults to "unknown"
// when absent. _SOURCE_REALTIME_TIMESTAMP is microseconds and is divided
// down to milliseconds; an absent or unparseable timestamp falls back to
// the current wall clock.
package journal

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

const (
	fieldMessage   = "MESSAGE"
	fieldComm      = "_COMM"
	fieldTimestamp = "_SOURCE_REALTIME_TIMESTAMP"

	unknownComm = "unknown"

	// waitTimeout bounds how long Wait blocks between polls, matching the
	// reference implementation's one-second poll interval.
	waitTimeout = 1 * time.Second
)

// reader is the subset of *sdjournal.Journal that Run depends on; a
// Source obtains one through its open function.
type reader interface {
	SeekTail() error
	Wait(timeout time.Duration) int
	Next() (uint64, error)
	GetEntry() (*sdjournal.JournalEntry, error)
	Close() error
}

// Config configures a Source.
type Config struct {
	Logger *slog.Logger
}

// Source reads journal entries and emits LogEvents on a channel.
type Source struct {
	logger *slog.Logger
	open   func() (reader, error)
}

// New creates a Source that opens the real system journal on Run.
func New(cfg Config) *Source {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{logger: logger, open: openSystemJournal}
}

func openSystemJournal() (reader, error) {
	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Run opens the journal, seeks to the tail, and blocks delivering
// LogEvents to out until ctx is canceled, at which point it closes out
// and returns. Errors from the wait loop are logged and retried, matching
// the reference implementation's behavior of never giving up on a single
// read failure.
func (s *Source) Run(ctx context.Context, out chan<- types.LogEvent) error {
	j, err := s.open()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.SeekTail(); err != nil {
		s.logger.Error("failed to seek journal to tail", "error", err)
	}

	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		status := j.Wait(waitTimeout)
		switch status {
		case sdjournal.SD_JOURNAL_NOP:
			continue
		case sdjournal.SD_JOURNAL_INVALIDATE:
			s.logger.Debug("journal files changed")
			continue
		}

		for {
			n, err := j.Next()
			if err != nil {
				s.logger.Error("journal next failed", "error", err)
				break
			}
			if n == 0 {
				break
			}

			entry, err := j.GetEntry()
			if err != nil {
				s.logger.Error("journal get entry failed", "error", err)
				continue
			}

			event, ok := parseEntry(entry.Fields)
			if !ok {
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parseEntry converts raw journal fields into a LogEvent. It returns
// ok=false when the record has no MESSAGE field, in which case it is
// dropped.
func parseEntry(fields map[string]string) (types.LogEvent, bool) {
	message, ok := fields[fieldMessage]
	if !ok {
		return types.LogEvent{}, false
	}

	comm := fields[fieldComm]
	return types.NewLogEvent(comm, message, recordTimestampMillis(fields)), true
}

// recordTimestampMillis extracts _SOURCE_REALTIME_TIMESTAMP (in
// microseconds) and converts it to milliseconds. It falls back to the
// current wall clock when the field is absent or fails to parse.
func recordTimestampMillis(fields map[string]string) int64 {
	raw, ok := fields[fieldTimestamp]
	if !ok {
		return nowMillis()
	}
	microseconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nowMillis()
	}
	return microseconds / 1000
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
