package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

// mockUploader records every event it is asked to upload, mirroring the
// reference implementation's MockUploader test double.
type mockUploader struct {
	mu     sync.Mutex
	events []types.LogEvent
}

func (m *mockUploader) Upload(ctx context.Context, events []types.LogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

func (m *mockUploader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestBatcher(uploader Uploader, maxEvents int) *Batcher {
	return New(uploader, Config{
		MaxEvents:     maxEvents,
		MaxBatchBytes: 1_048_576,
		MaxBatchAge:   1 * time.Second,
	})
}

func TestManualFlush(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	ctx := context.Background()

	b.Push(ctx, types.LogEvent{Message: "m", Timestamp: time.Now().UnixMilli()})
	if uploader.count() != 0 {
		t.Fatalf("expected 0 uploaded events before flush, got %d", uploader.count())
	}

	b.Flush(ctx)
	if uploader.count() != 1 {
		t.Fatalf("expected 1 uploaded event after flush, got %d", uploader.count())
	}
}

func TestOutOfOrderTriggersFlush(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	ctx := context.Background()

	b.Push(ctx, types.LogEvent{Message: "a", Timestamp: 2})
	if uploader.count() != 0 {
		t.Fatalf("expected 0 uploaded events, got %d", uploader.count())
	}

	b.Push(ctx, types.LogEvent{Message: "b", Timestamp: 1})
	if uploader.count() != 1 {
		t.Fatalf("expected 1 uploaded event after regression, got %d", uploader.count())
	}
	if uploader.events[0].Message != "a" {
		t.Errorf("expected flushed event to be %q, got %q", "a", uploader.events[0].Message)
	}

	b.Flush(ctx)
	if uploader.count() != 2 {
		t.Fatalf("expected second flush to ship the buffered event, got %d", uploader.count())
	}
}

func TestEqualTimestampsDoNotTrigger(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	ctx := context.Background()

	b.Push(ctx, types.LogEvent{Message: "a", Timestamp: 1})
	if uploader.count() != 0 {
		t.Fatalf("expected 0 uploaded events, got %d", uploader.count())
	}

	b.Push(ctx, types.LogEvent{Message: "b", Timestamp: 1})
	if uploader.count() != 0 {
		t.Fatalf("expected equal timestamps to not trigger a flush, got %d uploaded", uploader.count())
	}
}

func TestSizeTrigger(t *testing.T) {
	uploader := &mockUploader{}
	b := New(uploader, Config{MaxEvents: 100, MaxBatchBytes: 60, MaxBatchAge: time.Second})
	ctx := context.Background()

	// byte_weight("aaaaaaaaaa") = 10 + 26 = 36
	b.Push(ctx, types.LogEvent{Message: "aaaaaaaaaa", Timestamp: 1})
	if uploader.count() != 0 {
		t.Fatalf("expected 0 uploaded events, got %d", uploader.count())
	}

	// 36 + 36 = 72 > 60, so this push must flush the first event first.
	b.Push(ctx, types.LogEvent{Message: "bbbbbbbbbb", Timestamp: 2})
	if uploader.count() != 1 {
		t.Fatalf("expected size trigger to flush 1 event, got %d", uploader.count())
	}
}

func TestCountTrigger(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 3)
	ctx := context.Background()

	b.Push(ctx, types.LogEvent{Message: "a", Timestamp: 1})
	b.Push(ctx, types.LogEvent{Message: "b", Timestamp: 2})
	if uploader.count() != 0 {
		t.Fatalf("expected 0 uploaded events before cap, got %d", uploader.count())
	}

	// len(pending)+1 = 3 >= max_events(3) -> flush the 2 buffered first.
	b.Push(ctx, types.LogEvent{Message: "c", Timestamp: 3})
	if uploader.count() != 2 {
		t.Fatalf("expected count trigger to flush 2 events, got %d", uploader.count())
	}
}

func TestDebugSingleEventMode(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 1)
	ctx := context.Background()

	b.Push(ctx, types.LogEvent{Message: "solo", Timestamp: time.Now().UnixMilli()})
	if uploader.count() != 1 {
		t.Fatalf("expected debug mode to upload immediately, got %d", uploader.count())
	}

	b.Push(ctx, types.LogEvent{Message: "solo2", Timestamp: time.Now().UnixMilli()})
	if uploader.count() != 2 {
		t.Fatalf("expected second debug push to also upload immediately, got %d", uploader.count())
	}
}

func TestFlushResetsState(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	ctx := context.Background()

	b.Push(ctx, types.LogEvent{Message: "a", Timestamp: 10})
	b.Flush(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) != 0 || b.firstTs != nil || b.lastTs != nil || b.pendingBytes != 0 {
		t.Errorf("expected fully reset state after flush, got pending=%d firstTs=%v lastTs=%v bytes=%d",
			len(b.pending), b.firstTs, b.lastTs, b.pendingBytes)
	}
}

func TestFlushOnEmptyIsNoop(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	b.Flush(context.Background())
	if uploader.count() != 0 {
		t.Errorf("expected flushing an empty batcher to be a no-op, got %d events", uploader.count())
	}
}

func TestRunFlushesOnChannelClose(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	events := make(chan types.LogEvent)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), events) }()

	// An event older than maxBatchAge should be flushed on shutdown.
	events <- types.LogEvent{Message: "stale", Timestamp: time.Now().Add(-2 * time.Second).UnixMilli()}
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if uploader.count() != 1 {
		t.Errorf("expected stale pending event to be flushed on shutdown, got %d", uploader.count())
	}
}

func TestRunDropsFreshEventsOnShutdown(t *testing.T) {
	uploader := &mockUploader{}
	b := newTestBatcher(uploader, 100)
	events := make(chan types.LogEvent)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), events) }()

	events <- types.LogEvent{Message: "fresh", Timestamp: time.Now().UnixMilli()}
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// Matches the age-gated shutdown flush behavior documented in the
	// package design notes: events younger than maxBatchAge at shutdown
	// are not flushed.
	if uploader.count() != 0 {
		t.Errorf("expected fresh pending event to be dropped on shutdown, got %d uploaded", uploader.count())
	}
}

func TestRunFlushesStaleEventsViaAgeTicker(t *testing.T) {
	uploader := &mockUploader{}
	b := New(uploader, Config{MaxEvents: 100, MaxBatchBytes: 1_048_576, MaxBatchAge: 50 * time.Millisecond})
	events := make(chan types.LogEvent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx, events)

	events <- types.LogEvent{Message: "ticking", Timestamp: time.Now().UnixMilli()}

	deadline := time.After(2 * time.Second)
	for uploader.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for age trigger to flush")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
