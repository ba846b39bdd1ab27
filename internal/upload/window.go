package upload

import (
	"sort"

	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

// maxWindowMs is the widest timestamp span tolerated within one
// PutLogEvents sub-batch. CloudWatch Logs rejects batches spanning more
// than 24 hours; 16 hours leaves a safety margin against clock skew and
// in-flight delay between the oldest event's timestamp and the call.
const maxWindowMs = 16 * 60 * 60 * 1000 // 57_600_000

// groupByWindow stable-sorts events by timestamp ascending, then
// partitions them into the fewest sub-batches such that no sub-batch
// spans more than maxWindowMs between its earliest and latest event.
//
// Events are assigned greedily in sorted order: a sub-batch stays open
// while the incoming event's timestamp is within maxWindowMs of the
// sub-batch's first (earliest) event; otherwise the sub-batch closes and
// a new one opens with that event. Groups are returned in creation order,
// which is timestamp-ascending.
func groupByWindow(events []types.LogEvent) [][]types.LogEvent {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]types.LogEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var groups [][]types.LogEvent
	current := []types.LogEvent{sorted[0]}
	groupFirstTs := sorted[0].Timestamp

	for _, e := range sorted[1:] {
		if e.Timestamp-groupFirstTs <= maxWindowMs {
			current = append(current, e)
			continue
		}
		groups = append(groups, current)
		current = []types.LogEvent{e}
		groupFirstTs = e.Timestamp
	}
	groups = append(groups, current)

	return groups
}
