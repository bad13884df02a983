// Package feed pushes activity log entries to live subscribers over
// Redis pub/sub. Delivery is at least once and may drop under
// backpressure; the cursor backfill endpoint is the correctness
// mechanism, the feed is only a latency optimization.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldqa/api/internal/qa"
)

const channel = "fieldqa:activity"

// Event is the wire form of one activity log entry. ID and CreatedAt
// together are the subscriber's resume cursor.
type Event struct {
	ID           int64           `json:"id"`
	ActivityType qa.ActivityType `json:"activity_type"`
	Description  string          `json:"description"`
	OldValue     *string         `json:"old_value,omitempty"`
	NewValue     *string         `json:"new_value,omitempty"`
	ProjectID    *string         `json:"project_id,omitempty"`
	QAItemID     *string         `json:"qa_item_id,omitempty"`
	UserID       *string         `json:"user_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Scope narrows a subscription. Zero value receives everything.
type Scope struct {
	ProjectID string
	QAItemID  string
}

func (s Scope) matches(event Event) bool {
	if s.ProjectID != "" && (event.ProjectID == nil || *event.ProjectID != s.ProjectID) {
		return false
	}
	if s.QAItemID != "" && (event.QAItemID == nil || *event.QAItemID != s.QAItemID) {
		return false
	}
	return true
}

type Broker struct {
	rdb *redis.Client
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Publish fans an event out to subscribers. Failures are logged and
// swallowed: the committed log entry is the durable record and a
// missed push is recovered by backfill.
func (b *Broker) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("feed: marshal event %d: %v", event.ID, err)
		return
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("feed: publish event %d: %v", event.ID, err)
	}
}

// Subscription is a live feed handle. Close it when done; the event
// channel is closed once the subscription drains.
type Subscription struct {
	events chan Event
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *Subscription) C() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.cancel()
	_ = s.pubsub.Close()
}

// Subscribe opens a scoped live subscription. Events arriving while
// the consumer lags past the buffer are dropped, not queued.
func (b *Broker) Subscribe(ctx context.Context, scope Scope) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe feed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan Event, 64),
		pubsub: pubsub,
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("feed: decode event: %v", err)
					continue
				}
				if !scope.matches(event) {
					continue
				}
				select {
				case sub.events <- event:
				default:
					// Slow consumer. Drop; backfill covers the gap.
				}
			}
		}
	}()

	return sub, nil
}
