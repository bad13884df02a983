package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fieldqa/api/internal/qa"
)

func setupBroker(t *testing.T) *Broker {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBroker(rdb)
}

func waitForEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case event := <-sub.C():
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func strPtr(s string) *string { return &s }

func TestPublishReachesSubscriber(t *testing.T) {
	broker := setupBroker(t)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Scope{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	broker.Publish(ctx, Event{
		ID:           42,
		ActivityType: qa.ActivityStatusChange,
		Description:  "QA-2026-0001 moved from noted to open",
		ProjectID:    strPtr("project-1"),
		CreatedAt:    time.Now().UTC(),
	})

	event := waitForEvent(t, sub)
	if event.ID != 42 {
		t.Fatalf("expected event 42, got %d", event.ID)
	}
	if event.ActivityType != qa.ActivityStatusChange {
		t.Fatalf("expected status_change, got %s", event.ActivityType)
	}
}

func TestScopeFiltersByProject(t *testing.T) {
	broker := setupBroker(t)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Scope{ProjectID: "project-2"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	broker.Publish(ctx, Event{ID: 1, ProjectID: strPtr("project-1"), CreatedAt: time.Now().UTC()})
	broker.Publish(ctx, Event{ID: 2, ProjectID: strPtr("project-2"), CreatedAt: time.Now().UTC()})

	event := waitForEvent(t, sub)
	if event.ID != 2 {
		t.Fatalf("scope should drop project-1 events, got event %d", event.ID)
	}
}

func TestScopeFiltersByItem(t *testing.T) {
	broker := setupBroker(t)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Scope{QAItemID: "item-9"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	broker.Publish(ctx, Event{ID: 1, QAItemID: strPtr("item-1"), CreatedAt: time.Now().UTC()})
	broker.Publish(ctx, Event{ID: 2, CreatedAt: time.Now().UTC()})
	broker.Publish(ctx, Event{ID: 3, QAItemID: strPtr("item-9"), CreatedAt: time.Now().UTC()})

	event := waitForEvent(t, sub)
	if event.ID != 3 {
		t.Fatalf("scope should only pass item-9 events, got event %d", event.ID)
	}
}

func TestCloseEndsSubscription(t *testing.T) {
	broker := setupBroker(t)

	sub, err := broker.Subscribe(context.Background(), Scope{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Close()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel should close after Close")
	}
}
