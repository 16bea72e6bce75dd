// Package eventbus fans document and control-plane events out to
// subscribers — the collaboration surface, the hook listener, and any
// other process watching a context. The in-process Bus is the default;
// RedisBus exists for multi-process deployments where the surface and the
// kernel run in separate processes, following the XADD/XREAD streaming
// idiom the teacher corpus uses for its flow-event stream.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"kaijutsu/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Kind names the category of an event (spec §4.2/§4.3: block mutation and
// sync-state transitions are both observable).
type Kind string

const (
	KindBlockCreated  Kind = "block_created"
	KindHeaderChanged Kind = "header_changed"
	KindTextChanged   Kind = "text_changed"
	KindSyncStateChanged Kind = "sync_state_changed"
	KindDrift         Kind = "drift"
)

// Event is one published notification.
type Event struct {
	ContextId domain.ContextId `json:"contextId"`
	Kind      Kind             `json:"kind"`
	BlockId   *domain.BlockId  `json:"blockId,omitempty"`
	At        time.Time        `json:"at"`
}

// Streamer is the interface both bus implementations satisfy, mirroring
// the teacher corpus's FlowEventStreamer shape: publish, and subscribe to
// a single logical stream.
type Streamer interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, contextId domain.ContextId) (<-chan Event, func(), error)
}

// Bus is the in-process, in-memory Streamer: a set of per-context
// subscriber channels. Suitable for a single-process kernel instance.
type Bus struct {
	mu   sync.Mutex
	subs map[domain.ContextId]map[chan Event]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[domain.ContextId]map[chan Event]struct{})}
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.ContextId] {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("contextId", string(ev.ContextId)).Msg("eventbus: subscriber channel full, dropping event")
		}
	}
	return nil
}

// Subscribe returns a channel of events for contextId and an unsubscribe
// function. The returned channel is buffered so a slow consumer does not
// stall publishers; events beyond the buffer are dropped rather than
// blocking (spec §5: the bus must never be a suspension point held under
// a document lock).
func (b *Bus) Subscribe(ctx context.Context, contextId domain.ContextId) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	if b.subs[contextId] == nil {
		b.subs[contextId] = make(map[chan Event]struct{})
	}
	b.subs[contextId][ch] = struct{}{}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[contextId], ch)
		if len(b.subs[contextId]) == 0 {
			delete(b.subs, contextId)
		}
		close(ch)
	}
	return ch, unsubscribe, nil
}

// RedisBus streams events through a Redis stream keyed per context,
// following the same XAdd-then-XRead idiom the teacher corpus uses for
// flow events, so a collaboration surface running in a separate process
// from the kernel can still subscribe.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func streamKey(contextId domain.ContextId) string {
	return "kaijutsu:events:" + string(contextId)
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(ev.ContextId),
		Values: map[string]any{"event": string(payload)},
		MaxLen: 10_000,
		Approx: true,
	}).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, contextId domain.ContextId) (<-chan Event, func(), error) {
	out := make(chan Event, 64)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		lastID := "$"
		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}
			streams, err := b.client.XRead(subCtx, &redis.XReadArgs{
				Streams: []string{streamKey(contextId), lastID},
				Block:   time.Second,
				Count:   100,
			}).Result()
			if err != nil {
				if err == redis.Nil || subCtx.Err() != nil {
					continue
				}
				log.Error().Err(err).Msg("eventbus: redis xread failed")
				return
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					raw, _ := msg.Values["event"].(string)
					var ev Event
					if err := json.Unmarshal([]byte(raw), &ev); err != nil {
						continue
					}
					select {
					case out <- ev:
					case <-subCtx.Done():
						return
					}
				}
			}
		}
	}()

	return out, cancel, nil
}
