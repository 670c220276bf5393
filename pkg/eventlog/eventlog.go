// Package eventlog maintains the per-tenant ordered append log. Every
// accepted mutation lands here keyed by a watermark: a strictly monotonic,
// string-comparable position marker. Comparing two watermarks never needs a
// clock; plain string comparison is the total order.
package eventlog

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/TBD54566975/hubnode/pkg/message"
)

// Event is the unit of the log, exposed verbatim to subscribers and
// pagination callers.
type Event struct {
	Watermark  string `json:"watermark"`
	MessageCID string `json:"messageCid"`
}

// Log is the persistence contract for the per-tenant event sequence.
type Log interface {
	// Append allocates a watermark strictly greater than every watermark
	// previously allocated for the tenant, persists the pair, and returns
	// the watermark. Safe under concurrent callers.
	Append(ctx context.Context, tenant, messageCID string, d *message.Descriptor) (string, error)
	// EventsAfter returns events strictly after the given watermark (all
	// events when watermark is empty), ascending, optionally filtered.
	// Idempotent and side-effect-free.
	EventsAfter(ctx context.Context, tenant, watermark string, f *message.Filter) ([]Event, error)
}

// watermarkClock allocates per-tenant strictly increasing ULIDs. Monotonic
// entropy handles same-millisecond allocations; the millisecond floor handles
// wall clocks stepping backwards.
type watermarkClock struct {
	mu      sync.Mutex
	lastMS  map[string]uint64
	entropy map[string]*ulid.MonotonicEntropy
}

func newWatermarkClock() *watermarkClock {
	return &watermarkClock{
		lastMS:  make(map[string]uint64),
		entropy: make(map[string]*ulid.MonotonicEntropy),
	}
}

func (c *watermarkClock) next(tenant string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := ulid.Timestamp(time.Now())
	if last := c.lastMS[tenant]; ms < last {
		ms = last
	}
	entropy, ok := c.entropy[tenant]
	if !ok {
		entropy = ulid.Monotonic(rand.Reader, 0)
		c.entropy[tenant] = entropy
	}
	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}
	c.lastMS[tenant] = ms
	return id.String(), nil
}
