package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/TBD54566975/hubnode/pkg/message"
)

type memoryEntry struct {
	event Event
	desc  message.Descriptor
}

// MemoryLog is an in-memory Log for tests and ephemeral nodes.
type MemoryLog struct {
	mu      sync.RWMutex
	clock   *watermarkClock
	tenants map[string][]memoryEntry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		clock:   newWatermarkClock(),
		tenants: make(map[string][]memoryEntry),
	}
}

func (l *MemoryLog) Append(_ context.Context, tenant, messageCID string, d *message.Descriptor) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	watermark, err := l.clock.next(tenant)
	if err != nil {
		return "", err
	}
	entry := memoryEntry{event: Event{Watermark: watermark, MessageCID: messageCID}}
	if d != nil {
		entry.desc = *d
	}
	l.tenants[tenant] = append(l.tenants[tenant], entry)
	return watermark, nil
}

func (l *MemoryLog) EventsAfter(_ context.Context, tenant, watermark string, f *message.Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.tenants[tenant]
	// Entries are appended in watermark order; find the resume point.
	start := sort.Search(len(entries), func(i int) bool {
		return entries[i].event.Watermark > watermark
	})
	var out []Event
	for _, e := range entries[start:] {
		if f.Matches(&e.desc) {
			out = append(out, e.event)
		}
	}
	return out, nil
}
