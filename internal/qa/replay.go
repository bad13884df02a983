package qa

import "time"

// StatusEvent is one status_change audit entry in item order.
type StatusEvent struct {
	NewStatus Status
	At        time.Time
}

// ReplayResult is the item state reconstructed from its audit log.
type ReplayResult struct {
	Status     Status
	StartedAt  *time.Time
	ResolvedAt *time.Time
	VerifiedAt *time.Time
	ClosedAt   *time.Time
}

// Replay folds an item's status_change entries, oldest first, into the
// status and phase timestamps the item must currently carry. Each
// timestamp records the first time its state was entered; the audit
// log is the source of truth and the item row is a cache of this fold.
func Replay(events []StatusEvent) ReplayResult {
	result := ReplayResult{Status: StatusNoted}
	for _, event := range events {
		result.Status = event.NewStatus
		at := event.At
		switch event.NewStatus {
		case StatusOpen:
			if result.StartedAt == nil {
				result.StartedAt = &at
			}
		case StatusResolved:
			if result.ResolvedAt == nil {
				result.ResolvedAt = &at
			}
		case StatusVerified:
			if result.VerifiedAt == nil {
				result.VerifiedAt = &at
			}
		case StatusClosed:
			if result.ClosedAt == nil {
				result.ClosedAt = &at
			}
		}
	}
	return result
}
