// Package selfhealth periodically logs this process's own resource
// usage. There is no control plane to heartbeat to, so a Reporter simply
// writes a structured log line on an interval; an operator wires those
// lines into whatever log aggregation they already run.
package selfhealth

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Config controls a Reporter's logging interval.
type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Reporter logs process health at a fixed interval until its context is
// canceled.
type Reporter struct {
	interval  time.Duration
	logger    *slog.Logger
	startTime time.Time
}

// New creates a Reporter. A zero Interval defaults to 60 seconds.
func New(cfg Config) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reporter{interval: interval, logger: logger, startTime: time.Now()}
}

// Run blocks, logging a health line every interval, until ctx is
// canceled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	attrs := []any{
		"goroutines", runtime.NumGoroutine(),
		"uptime_seconds", int64(time.Since(r.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		r.logger.Warn("self health: failed to inspect own process", "error", err)
		r.logger.Info("self health", attrs...)
		return
	}

	if cpu, err := proc.CPUPercent(); err == nil {
		attrs = append(attrs, "cpu_percent", cpu)
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		attrs = append(attrs, "memory_mb", float64(mem.RSS)/(1024*1024))
	}

	r.logger.Info("self health", attrs...)
}
