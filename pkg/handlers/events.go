package handlers

import (
	"context"

	"github.com/TBD54566975/hubnode/pkg/eventlog"
	"github.com/TBD54566975/hubnode/pkg/message"
)

func (e *Engine) eventsGet(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	signer, err := e.authenticate(ctx, m)
	if err != nil {
		return Failure(err)
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, signer, nil); err != nil {
		return Failure(err)
	}

	d := &m.Descriptor
	events, err := e.events.EventsAfter(ctx, tenantDID, d.Watermark, d.Filter)
	if err != nil {
		return Failure(err)
	}
	cursor := d.Watermark
	if len(events) > 0 {
		cursor = events[len(events)-1].Watermark
	}
	return EventsReply(events, cursor)
}

// Subscribe authenticates and authorizes an EventsSubscribe message, then
// attaches a live feed. The caller owns the subscription and must Close it;
// resumption after a drop goes through an EventsGet with the last watermark.
func (e *Engine) Subscribe(ctx context.Context, tenantDID string, m *message.Message) (*eventlog.Subscription, error) {
	if err := e.gate.Admit(tenantDID); err != nil {
		return nil, err
	}
	signer, err := e.authenticate(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, signer, nil); err != nil {
		return nil, err
	}

	d := &m.Descriptor
	sub, err := e.bus.Subscribe(tenantDID, d.Filter, d.Expression)
	if err != nil {
		return nil, err
	}
	e.log.Info("subscription attached",
		"tenant", tenantDID, "subscription", sub.ID)
	return sub, nil
}
