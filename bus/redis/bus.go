// Package redis republishes execution-tree events onto a Redis pub/sub
// channel so multiple processes can observe one run's event stream
// (SPEC_FULL.md §4.6 expansion), grounded on goa-ai's registry package
// result-stream plumbing (github.com/redis/go-redis/v9 pub/sub keyed by a
// per-run channel name) and the general shape of features/stream/pulse.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/relayforge/gadgetloop/tree"
)

func channelForRun(runID string) string {
	return fmt.Sprintf("gadgetloop:run:%s:events", runID)
}

// Publisher republishes every event it receives onto a Redis pub/sub
// channel scoped to one run. Attach it via
// tree.Tree.Subscribe(tree.ListenerFunc(publisher.Listen), true) to mirror
// the full event stream.
type Publisher struct {
	rdb   *redis.Client
	runID string
}

// NewPublisher builds a Publisher for runID.
func NewPublisher(rdb *redis.Client, runID string) *Publisher {
	return &Publisher{rdb: rdb, runID: runID}
}

// Listen implements tree.ListenerFunc.
func (p *Publisher) Listen(ev tree.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// Best-effort: a dropped event here does not affect local tree state,
	// only remote observers' visibility into it.
	_ = p.rdb.Publish(context.Background(), channelForRun(p.runID), payload).Err()
}

// Subscriber receives a run's events from another process via Redis
// pub/sub.
type Subscriber struct {
	sub *redis.PubSub
}

// Subscribe opens a subscription to runID's event channel.
func Subscribe(ctx context.Context, rdb *redis.Client, runID string) *Subscriber {
	return &Subscriber{sub: rdb.Subscribe(ctx, channelForRun(runID))}
}

// Events returns a channel of decoded tree.Events. Malformed payloads are
// silently dropped.
func (s *Subscriber) Events(ctx context.Context) <-chan tree.Event {
	out := make(chan tree.Event)
	raw := s.sub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var ev tree.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close closes the underlying Redis subscription.
func (s *Subscriber) Close() error {
	return s.sub.Close()
}
