package eventlog

import (
	"sync"

	"github.com/google/uuid"

	"github.com/TBD54566975/hubnode/pkg/message"
)

// DefaultSubscriberBuffer is the per-subscription channel depth.
const DefaultSubscriberBuffer = 64

// Subscription is a live feed of newly appended events for one tenant.
// Delivery order matches append order. A subscriber whose buffer overflows is
// cancelled rather than stalled; it can resume gap-free with EventsAfter using
// the last watermark it saw.
type Subscription struct {
	ID     string
	C      <-chan Event
	bus    *Bus
	tenant string
	ch     chan Event
	filter *message.Filter
	expr   *celFilter
	once   sync.Once
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.drop(s.tenant, s.ID)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus fans appended events out to live subscribers, per tenant.
type Bus struct {
	mu      sync.RWMutex
	buffer  int
	tenants map[string]map[string]*Subscription
}

func NewBus() *Bus {
	return &Bus{buffer: DefaultSubscriberBuffer, tenants: make(map[string]map[string]*Subscription)}
}

// Subscribe attaches a live feed filtered by the given predicate and an
// optional CEL expression over the event's descriptor fields.
func (b *Bus) Subscribe(tenant string, f *message.Filter, expression string) (*Subscription, error) {
	var expr *celFilter
	if expression != "" {
		var err error
		expr, err = compileFilterExpression(expression)
		if err != nil {
			return nil, err
		}
	}

	ch := make(chan Event, b.buffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		C:      ch,
		bus:    b,
		tenant: tenant,
		ch:     ch,
		filter: f,
		expr:   expr,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.tenants[tenant]
	if !ok {
		subs = make(map[string]*Subscription)
		b.tenants[tenant] = subs
	}
	subs[sub.ID] = sub
	return sub, nil
}

// Publish delivers an event to every matching subscriber of the tenant.
// Called after the event is durably appended, in append order.
func (b *Bus) Publish(tenant string, ev Event, d *message.Descriptor) {
	b.mu.RLock()
	subs := b.tenants[tenant]
	matched := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		if !sub.filter.Matches(d) {
			continue
		}
		if sub.expr != nil && !sub.expr.Match(d) {
			continue
		}
		matched = append(matched, sub)
	}
	b.mu.RUnlock()

	var lagging []*Subscription
	for _, sub := range matched {
		select {
		case sub.ch <- ev:
		default:
			// Never block the append path on a slow consumer.
			lagging = append(lagging, sub)
		}
	}
	for _, sub := range lagging {
		b.drop(tenant, sub.ID)
	}
}

func (b *Bus) drop(tenant, id string) {
	b.mu.Lock()
	sub, ok := b.tenants[tenant][id]
	if ok {
		delete(b.tenants[tenant], id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// SubscriberCount reports the number of live subscriptions for a tenant.
func (b *Bus) SubscriberCount(tenant string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tenants[tenant])
}
