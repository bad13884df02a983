package qa

import (
	"testing"
	"time"
)

func TestReplayEmptyLogIsNoted(t *testing.T) {
	result := Replay(nil)
	if result.Status != StatusNoted {
		t.Fatalf("expected noted, got %s", result.Status)
	}
	if result.StartedAt != nil || result.ResolvedAt != nil || result.VerifiedAt != nil || result.ClosedAt != nil {
		t.Fatalf("no events should mean no timestamps")
	}
}

func TestReplayFullLifecycle(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []StatusEvent{
		{StatusOpen, base},
		{StatusResolved, base.Add(time.Hour)},
		{StatusVerified, base.Add(2 * time.Hour)},
		{StatusClosed, base.Add(3 * time.Hour)},
	}
	result := Replay(events)
	if result.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", result.Status)
	}
	if !result.StartedAt.Equal(base) || !result.ResolvedAt.Equal(base.Add(time.Hour)) ||
		!result.VerifiedAt.Equal(base.Add(2*time.Hour)) || !result.ClosedAt.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("timestamps do not match event times: %+v", result)
	}
}

func TestReplayKeepsFirstEntryTimestampAcrossReopen(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []StatusEvent{
		{StatusOpen, base},
		{StatusResolved, base.Add(time.Hour)},
		{StatusOpen, base.Add(2 * time.Hour)},
		{StatusResolved, base.Add(3 * time.Hour)},
	}
	result := Replay(events)
	if result.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", result.Status)
	}
	if !result.ResolvedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("resolved_at must keep the first resolution time, got %v", result.ResolvedAt)
	}
	if !result.StartedAt.Equal(base) {
		t.Fatalf("started_at must keep the first open time, got %v", result.StartedAt)
	}
}
