package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

const redisChannelPrefix = "hubnode:events:"

// relayFrame is the wire shape published between nodes.
type relayFrame struct {
	Event      Event              `json:"event"`
	Descriptor message.Descriptor `json:"descriptor"`
}

// RedisRelay fans events out across nodes via Redis pub/sub so subscribers
// attached to one node see appends made on another. Delivery through the
// relay keeps the at-least-once contract: a gap is recoverable via
// EventsAfter against the shared log.
type RedisRelay struct {
	client *redis.Client
	bus    *Bus
	logger *slog.Logger
}

func NewRedisRelay(client *redis.Client, bus *Bus, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, bus: bus, logger: logger}
}

// Publish broadcasts an appended event to all nodes.
func (r *RedisRelay) Publish(ctx context.Context, tenant string, ev Event, d *message.Descriptor) error {
	frame := relayFrame{Event: ev}
	if d != nil {
		frame.Descriptor = *d
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return errs.Store(err, "encoding relay frame")
	}
	if err := r.client.Publish(ctx, redisChannelPrefix+tenant, payload).Err(); err != nil {
		return errs.Store(err, "publishing relay frame")
	}
	return nil
}

// Run consumes relayed events and feeds them into the local bus until ctx is
// cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			tenant := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				r.logger.Warn("dropping malformed relay frame", "channel", msg.Channel, "error", err)
				continue
			}
			r.bus.Publish(tenant, frame.Event, &frame.Descriptor)
		}
	}
}
