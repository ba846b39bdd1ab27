// Package types defines the domain types shared across the shipper.
//
// # Design Principles
//
// 1. Simplicity: types represent the domain model directly, no ORM abstractions.
// 2. Immutability: a LogEvent, once constructed, is never mutated in place.
// 3. Validation: constructors enforce the invariants the pipeline relies on.
package types

import "fmt"

// eventOverheadBytes is the server's fixed per-event accounting overhead,
// applied on top of the UTF-8 byte length of the message.
//
// Reference:
// docs.aws.amazon.com/AmazonCloudWatchLogs/latest/APIReference/API_PutLogEvents.html
const eventOverheadBytes = 26

// LogEvent is an immutable record ready to be shipped to the remote log
// stream: a UTF-8 message and a millisecond-epoch timestamp.
type LogEvent struct {
	Message   string
	Timestamp int64 // milliseconds since the Unix epoch
}

// NewLogEvent constructs a LogEvent from a command name and a raw message,
// projecting them into the wire format "{comm}: {message}".
func NewLogEvent(comm, message string, timestampMs int64) LogEvent {
	if comm == "" {
		comm = "unknown"
	}
	return LogEvent{
		Message:   fmt.Sprintf("%s: %s", comm, message),
		Timestamp: timestampMs,
	}
}

// ByteWeight returns the server's billed-bytes accounting for this event:
// the UTF-8 length of the message plus the fixed per-event overhead.
func (e LogEvent) ByteWeight() int {
	return len(e.Message) + eventOverheadBytes
}

// DropRecord describes one sub-batch that could not be delivered to the
// remote log stream. It exists purely for operator visibility (see the
// optional drop ledger); nothing in the delivery pipeline reads it back.
type DropRecord struct {
	ID         string `json:"id"`
	Stream     string `json:"stream"`
	EventCount int    `json:"event_count"`
	FirstTsMs  int64  `json:"first_ts_ms"`
	LastTsMs   int64  `json:"last_ts_ms"`
	Reason     string `json:"reason"`
	OccurredAt int64  `json:"occurred_at_ms"`
}
