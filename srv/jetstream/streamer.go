package jetstream

import (
	"context"
	"encoding/json"
	"fmt"

	"kaijutsu/domain"
	"kaijutsu/eventbus"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const streamName = "KAIJUTSU_EVENTS"

// subject returns the JetStream subject one context's events publish to.
// A single wildcard-subscribable stream spans every context, since the
// number of contexts is unbounded and NATS streams are cheap to fan a
// wildcard subject out over, unlike one stream per context.
func subject(contextId domain.ContextId) string {
	return "kaijutsu.events." + string(contextId)
}

// Bus is an eventbus.Streamer backed by a JetStream stream, for
// deployments running the collaboration surface and the kernel as
// separate processes that want delivery durability beyond what a Redis
// stream's best-effort XADD/XREAD loop provides.
type Bus struct {
	js nats.JetStreamContext
}

var _ eventbus.Streamer = (*Bus)(nil)

// NewBus ensures the shared events stream exists and returns a Bus backed
// by it.
func NewBus(nc *nats.Conn) (*Bus, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: failed to get context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"kaijutsu.events.>"},
		MaxMsgs:  1_000_000,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("jetstream: failed to add stream: %w", err)
	}

	return &Bus{js: js}, nil
}

func (b *Bus) Publish(ctx context.Context, ev eventbus.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("jetstream: failed to marshal event: %w", err)
	}
	_, err = b.js.Publish(subject(ev.ContextId), payload)
	if err != nil {
		return fmt.Errorf("jetstream: failed to publish event: %w", err)
	}
	return nil
}

// Subscribe creates an ephemeral, new-messages-only push subscription on
// the context's subject, translating JetStream deliveries into the same
// channel/unsubscribe shape eventbus.Bus and eventbus.RedisBus return.
func (b *Bus) Subscribe(ctx context.Context, contextId domain.ContextId) (<-chan eventbus.Event, func(), error) {
	out := make(chan eventbus.Event, 64)

	sub, err := b.js.Subscribe(subject(contextId), func(msg *nats.Msg) {
		var ev eventbus.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("jetstream: dropping undecodable event")
			return
		}
		select {
		case out <- ev:
		default:
			log.Warn().Str("contextId", string(contextId)).Msg("jetstream: subscriber channel full, dropping event")
		}
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		close(out)
		return nil, nil, fmt.Errorf("jetstream: failed to subscribe: %w", err)
	}

	unsubscribe := func() {
		_ = sub.Unsubscribe()
		close(out)
	}
	return out, unsubscribe, nil
}
