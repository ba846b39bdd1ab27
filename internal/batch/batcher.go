// Package batch buffers log events in memory and flushes them to an
// Uploader when size, count, ordering, or age thresholds are crossed.
//
// # Design
//
// Events are held in pending until one of four triggers fires:
//  1. Ordering: the next event's timestamp regresses before the last
//     accepted event's timestamp.
//  2. Size: appending the next event would exceed the byte cap.
//  3. Count: appending the next event would reach max events.
//  4. Age: the oldest pending event has sat longer than maxBatchAge.
//
// The first three are evaluated inside Push, before the event is
// appended, so the just-pushed event is still in pending when Push
// returns. The one exception is max events of 1: Push then flushes again
// after the append, so the event is already uploaded on return. The age
// trigger is evaluated by the caller's loop (Run), independent of Push,
// since it must fire even when no new event arrives.
//
// This mirrors the teacher shipper's buffer-plus-ticker shape, adapted to
// the ordering/byte-weight/debug-mode semantics this pipeline requires.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

// ageCheckInterval is how often Run polls for the age trigger while
// waiting for new events. It is independent of maxBatchAge so that the
// trigger fires promptly even when traffic is sparse.
const ageCheckInterval = 250 * time.Millisecond

// Uploader is the capability the Batcher depends on: delivering a flushed
// batch of events to the remote log stream. The real implementation is
// upload.Uploader; tests use a recording double.
type Uploader interface {
	Upload(ctx context.Context, events []types.LogEvent)
}

// Config controls the Batcher's flush thresholds.
type Config struct {
	MaxEvents     int           // count trigger; 1 in debug mode
	MaxBatchBytes int           // size trigger
	MaxBatchAge   time.Duration // age trigger
	Logger        *slog.Logger
}

// Batcher accumulates LogEvents and flushes them to an Uploader.
type Batcher struct {
	uploader      Uploader
	maxEvents     int
	maxBatchBytes int
	maxBatchAge   time.Duration
	logger        *slog.Logger

	mu           sync.Mutex
	pending      []types.LogEvent
	firstTs      *int64
	lastTs       *int64
	pendingBytes int
}

// New creates a Batcher backed by the given Uploader.
func New(uploader Uploader, cfg Config) *Batcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 100
	}
	maxBatchBytes := cfg.MaxBatchBytes
	if maxBatchBytes <= 0 {
		maxBatchBytes = 1_048_576
	}
	maxBatchAge := cfg.MaxBatchAge
	if maxBatchAge <= 0 {
		maxBatchAge = 1 * time.Second
	}
	return &Batcher{
		uploader:      uploader,
		maxEvents:     maxEvents,
		maxBatchBytes: maxBatchBytes,
		maxBatchAge:   maxBatchAge,
		logger:        logger,
	}
}

// Push accepts one event, flushing zero or more times first if a trigger
// fires, then appends the event to pending. If that fills pending to
// maxEvents (only possible when maxEvents is 1), it flushes once more
// before returning.
func (b *Batcher) Push(ctx context.Context, e types.LogEvent) {
	b.mu.Lock()

	if b.lastTs != nil && e.Timestamp < *b.lastTs {
		b.flushLocked(ctx)
	}

	weight := e.ByteWeight()
	if b.pendingBytes+weight > b.maxBatchBytes {
		b.flushLocked(ctx)
	}

	if len(b.pending)+1 >= b.maxEvents {
		b.flushLocked(ctx)
	}

	if b.firstTs == nil {
		ts := e.Timestamp
		b.firstTs = &ts
	}
	lastTs := e.Timestamp
	b.lastTs = &lastTs
	b.pendingBytes += weight
	b.pending = append(b.pending, e)

	// max_events is a hard cap, not just a pre-append guard: in debug
	// mode (max_events = 1) the pre-append count trigger is a no-op on
	// an empty buffer, so the event just appended above would otherwise
	// sit unflushed. Catching the cap here too keeps "len(pending) <
	// max_events" true immediately after every Push returns.
	if len(b.pending) >= b.maxEvents {
		b.flushLocked(ctx)
	}

	b.mu.Unlock()
}

// Flush forces an immediate upload of the current pending events, if any.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked(ctx)
}

// flushLocked must be called with mu held. After it returns, pending is
// empty and firstTs/lastTs/pendingBytes are reset.
func (b *Batcher) flushLocked(ctx context.Context) {
	if len(b.pending) == 0 {
		return
	}

	events := b.pending
	b.pending = nil
	b.firstTs = nil
	b.lastTs = nil
	b.pendingBytes = 0

	b.logger.Debug("flushing batch", "events", len(events))
	b.uploader.Upload(ctx, events)
}

// flushIfStale flushes when the oldest pending event has aged past
// maxBatchAge. nowMs is the caller's current wall clock in milliseconds.
func (b *Batcher) flushIfStale(ctx context.Context, nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.firstTs == nil {
		return
	}
	if nowMs-*b.firstTs > b.maxBatchAge.Milliseconds() {
		b.flushLocked(ctx)
	}
}

// Run consumes events from the given channel, pushing each into the
// Batcher, and independently polls the age trigger so that sparse traffic
// still bounds upload latency to roughly maxBatchAge. Run returns when
// events is closed, after performing the age-gated shutdown flush
// described in the package design notes: remaining pending events are
// flushed only if they are already stale, matching the tested behavior of
// the reference implementation this pipeline is modeled on.
func (b *Batcher) Run(ctx context.Context, events <-chan types.LogEvent) error {
	ticker := time.NewTicker(ageCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-events:
			if !ok {
				b.flushIfStale(ctx, nowMillis())
				return nil
			}
			b.Push(ctx, e)

		case <-ticker.C:
			b.flushIfStale(ctx, nowMillis())
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
