// Package audit records sub-batches the Uploader could not deliver.
//
// It is a write-only, best-effort drop ledger: Upload never reads from
// it, and a ledger write failure never changes delivery behavior. Its
// only purpose is letting an operator later query which sub-batches were
// dropped and why, with raw SQL against pgx the way the reference
// control plane records its own operational history.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

// Ledger writes DropRecords to Postgres.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFromURL connects to the database at url and verifies connectivity.
func NewFromURL(ctx context.Context, url string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to audit database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging audit database: %w", err)
	}
	return &Ledger{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

// RecordDrop inserts one DropRecord. Failures are logged, never returned,
// since the ledger is not on the delivery critical path.
func (l *Ledger) RecordDrop(ctx context.Context, rec types.DropRecord) {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO dropped_batches (id, stream, event_count, first_ts_ms, last_ts_ms, reason, occurred_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID, rec.Stream, rec.EventCount, rec.FirstTsMs, rec.LastTsMs, rec.Reason, rec.OccurredAt,
	)
	if err != nil {
		l.logger.Error("failed to record dropped batch", "stream", rec.Stream, "error", err)
	}
}
