package selfhealth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(Config{Interval: 10 * time.Millisecond, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNew_DefaultsInterval(t *testing.T) {
	r := New(Config{})
	if r.interval != 60*time.Second {
		t.Errorf("expected default interval of 60s, got %v", r.interval)
	}
}
