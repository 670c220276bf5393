package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/TBD54566975/hubnode/pkg/message"
)

func writeDesc(recordID string) *message.Descriptor {
	return &message.Descriptor{
		Interface:        message.InterfaceRecords,
		Method:           message.MethodWrite,
		MessageTimestamp: message.Timestamp(time.Unix(1700000000, 0)),
		RecordID:         recordID,
	}
}

func logsUnderTest(t *testing.T) map[string]Log {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	sqlLog, err := NewSQLLog(db)
	require.NoError(t, err)
	return map[string]Log{"memory": NewMemoryLog(), "sql": sqlLog}
}

func TestAppendWatermarksStrictlyIncrease(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var last string
			for i := 0; i < 100; i++ {
				w, err := log.Append(ctx, "tenantA", fmt.Sprintf("cid-%d", i), writeDesc("r"))
				require.NoError(t, err)
				assert.Greater(t, w, last)
				last = w
			}
		})
	}
}

func TestEventsAfterExcludesWatermark(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w1, err := log.Append(ctx, "tenantA", "cid1", writeDesc("r"))
			require.NoError(t, err)
			w2, err := log.Append(ctx, "tenantA", "cid2", writeDesc("r"))
			require.NoError(t, err)
			require.Greater(t, w2, w1)

			events, err := log.EventsAfter(ctx, "tenantA", w1, nil)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, Event{Watermark: w2, MessageCID: "cid2"}, events[0])

			// Idempotent.
			again, err := log.EventsAfter(ctx, "tenantA", w1, nil)
			require.NoError(t, err)
			assert.Equal(t, events, again)

			all, err := log.EventsAfter(ctx, "tenantA", "", nil)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestEventsAfterTenantIsolation(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := log.Append(ctx, "tenantA", "cidA", writeDesc("r"))
			require.NoError(t, err)

			events, err := log.EventsAfter(ctx, "tenantB", "", nil)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestEventsAfterFiltering(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := log.Append(ctx, "t", "cid1", writeDesc("r1"))
			require.NoError(t, err)

			deleteDesc := writeDesc("r1")
			deleteDesc.Method = message.MethodDelete
			_, err = log.Append(ctx, "t", "cid2", deleteDesc)
			require.NoError(t, err)

			deletes, err := log.EventsAfter(ctx, "t", "", &message.Filter{Method: message.MethodDelete})
			require.NoError(t, err)
			require.Len(t, deletes, 1)
			assert.Equal(t, "cid2", deletes[0].MessageCID)
		})
	}
}

func TestConcurrentAppendsUnique(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	const n = 200
	watermarks := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := log.Append(ctx, "tenantA", fmt.Sprintf("cid-%d", i), writeDesc("r"))
			assert.NoError(t, err)
			watermarks <- w
		}(i)
	}
	wg.Wait()
	close(watermarks)

	seen := make(map[string]bool, n)
	for w := range watermarks {
		assert.False(t, seen[w], "duplicate watermark %s", w)
		seen[w] = true
	}
	assert.Len(t, seen, n)

	events, err := log.EventsAfter(ctx, "tenantA", "", nil)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Watermark, events[i-1].Watermark)
	}
}

func TestBusDeliveryOrderAndFiltering(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe("t", &message.Filter{Method: message.MethodWrite}, "")
	require.NoError(t, err)
	defer sub.Close()

	bus.Publish("t", Event{Watermark: "w1", MessageCID: "cid1"}, writeDesc("r1"))

	deleteDesc := writeDesc("r1")
	deleteDesc.Method = message.MethodDelete
	bus.Publish("t", Event{Watermark: "w2", MessageCID: "cid2"}, deleteDesc)

	bus.Publish("t", Event{Watermark: "w3", MessageCID: "cid3"}, writeDesc("r2"))

	ev := <-sub.C
	assert.Equal(t, "cid1", ev.MessageCID)
	ev = <-sub.C
	assert.Equal(t, "cid3", ev.MessageCID, "filtered event is skipped, order preserved")
}

func TestBusTenantScoping(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe("tenantA", nil, "")
	require.NoError(t, err)
	defer sub.Close()

	bus.Publish("tenantB", Event{Watermark: "w1", MessageCID: "cid1"}, writeDesc("r"))

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected cross-tenant delivery: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusDropsLaggingSubscriber(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe("t", nil, "")
	require.NoError(t, err)

	for i := 0; i <= DefaultSubscriberBuffer; i++ {
		bus.Publish("t", Event{Watermark: fmt.Sprintf("w%04d", i), MessageCID: "cid"}, writeDesc("r"))
	}

	// The subscription was cancelled; its channel drains then closes.
	count := 0
	for range sub.C {
		count++
	}
	assert.Equal(t, DefaultSubscriberBuffer, count)
	assert.Zero(t, bus.SubscriberCount("t"))
}

func TestBusCELExpression(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe("t", nil, `method == "Write" && recordId.startsWith("r1")`)
	require.NoError(t, err)
	defer sub.Close()

	bus.Publish("t", Event{Watermark: "w1", MessageCID: "cid1"}, writeDesc("r1"))
	bus.Publish("t", Event{Watermark: "w2", MessageCID: "cid2"}, writeDesc("x9"))

	ev := <-sub.C
	assert.Equal(t, "cid1", ev.MessageCID)
	select {
	case ev := <-sub.C:
		t.Fatalf("expression should have filtered event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusRejectsMalformedExpression(t *testing.T) {
	bus := NewBus()
	_, err := bus.Subscribe("t", nil, "not a valid ((( expression")
	assert.Error(t, err)

	_, err = bus.Subscribe("t", nil, `recordId`) // not boolean
	assert.Error(t, err)
}
