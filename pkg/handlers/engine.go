// Package handlers dispatches parsed messages to their method handlers and
// owns the accept pipeline: authenticate, resolve existing state, authorize,
// persist, append to the event log, notify subscribers. Handlers never return
// raw errors; every path yields a reply with a populated status.
package handlers

import (
	"context"
	"log/slog"

	"github.com/TBD54566975/hubnode/pkg/auth"
	"github.com/TBD54566975/hubnode/pkg/authz"
	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/eventlog"
	"github.com/TBD54566975/hubnode/pkg/message"
	"github.com/TBD54566975/hubnode/pkg/schema"
	"github.com/TBD54566975/hubnode/pkg/store"
	"github.com/TBD54566975/hubnode/pkg/tenant"
)

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Logger   *slog.Logger
	Messages store.MessageStore
	Data     store.DataStore
	Events   eventlog.Log
	Bus      *eventlog.Bus
	Resolver auth.KeyResolver
	Schemas  *schema.Validator
	Gate     *tenant.Gate
}

// Engine is the per-node message processing engine. It is safe for concurrent
// use; mutations on the same record are serialized internally.
type Engine struct {
	log      *slog.Logger
	messages store.MessageStore
	data     store.DataStore
	events   eventlog.Log
	bus      *eventlog.Bus
	resolver auth.KeyResolver
	registry *authz.Registry
	eval     *authz.Evaluator
	schemas  *schema.Validator
	gate     *tenant.Gate
	locks    *recordLocks
}

func NewEngine(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := authz.NewRegistry(d.Messages)
	return &Engine{
		log:      logger,
		messages: d.Messages,
		data:     d.Data,
		events:   d.Events,
		bus:      d.Bus,
		resolver: d.Resolver,
		registry: registry,
		eval:     authz.NewEvaluator(d.Messages, registry),
		schemas:  d.Schemas,
		gate:     d.Gate,
		locks:    newRecordLocks(),
	}
}

// Handle parses raw message JSON and dispatches it for the given tenant.
func (e *Engine) Handle(ctx context.Context, tenantDID string, raw []byte) UnionReply {
	m, err := message.Parse(raw)
	if err != nil {
		return Failure(err)
	}
	return e.Process(ctx, tenantDID, m)
}

// Process dispatches an already parsed message.
func (e *Engine) Process(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	if err := e.gate.Admit(tenantDID); err != nil {
		return Failure(err)
	}

	d := &m.Descriptor
	var reply UnionReply
	switch {
	case d.Interface == message.InterfaceRecords && d.Method == message.MethodWrite:
		reply = e.recordsWrite(ctx, tenantDID, m)
	case d.Interface == message.InterfaceRecords && d.Method == message.MethodDelete:
		reply = e.recordsDelete(ctx, tenantDID, m)
	case d.Interface == message.InterfaceRecords && d.Method == message.MethodRead:
		reply = e.recordsRead(ctx, tenantDID, m)
	case d.Interface == message.InterfaceRecords && d.Method == message.MethodQuery:
		reply = e.recordsQuery(ctx, tenantDID, m)
	case d.Interface == message.InterfaceProtocols && d.Method == message.MethodConfigure:
		reply = e.protocolsConfigure(ctx, tenantDID, m)
	case d.Interface == message.InterfaceProtocols && d.Method == message.MethodQuery:
		reply = e.protocolsQuery(ctx, tenantDID, m)
	case d.Interface == message.InterfacePermissions && d.Method == message.MethodGrant:
		reply = e.permissionsGrant(ctx, tenantDID, m)
	case d.Interface == message.InterfacePermissions && d.Method == message.MethodRevoke:
		reply = e.permissionsRevoke(ctx, tenantDID, m)
	case d.Interface == message.InterfaceEvents && d.Method == message.MethodGet:
		reply = e.eventsGet(ctx, tenantDID, m)
	case d.Interface == message.InterfaceEvents && d.Method == message.MethodSubscribe:
		// Subscriptions hand back a live feed; callers use Subscribe directly.
		reply = Failure(errs.Invalid("EventsSubscribe must be initiated through a subscription channel"))
	default:
		reply = Failure(errs.Invalid("unknown method %s%s", d.Interface, d.Method))
	}

	if reply.Status.Code >= 400 {
		e.log.Warn("message rejected",
			"tenant", tenantDID,
			"interface", d.Interface,
			"method", d.Method,
			"code", reply.Status.Code,
			"detail", reply.Status.Detail)
	} else {
		e.log.Debug("message handled",
			"tenant", tenantDID,
			"interface", d.Interface,
			"method", d.Method)
	}
	return reply
}

// authenticate verifies the envelope and returns the primary signer.
func (e *Engine) authenticate(ctx context.Context, m *message.Message) (string, error) {
	return auth.Authenticate(ctx, m, e.resolver)
}

// accept persists a message and appends its event atomically from the
// caller's point of view: if the event append fails, the persisted message is
// removed so no partial effect remains visible.
func (e *Engine) accept(ctx context.Context, tenantDID string, m *message.Message) (string, error) {
	cid, err := m.CID()
	if err != nil {
		return "", err
	}
	if err := e.messages.Put(ctx, tenantDID, m); err != nil {
		return "", err
	}
	watermark, err := e.events.Append(ctx, tenantDID, cid, &m.Descriptor)
	if err != nil {
		if delErr := e.messages.Delete(ctx, tenantDID, cid); delErr != nil {
			e.log.Error("rollback of unevented message failed",
				"tenant", tenantDID, "cid", cid, "error", delErr)
		}
		return "", err
	}
	e.bus.Publish(tenantDID, eventlog.Event{Watermark: watermark, MessageCID: cid}, &m.Descriptor)
	return watermark, nil
}

// resolveExisting loads and resolves the full message set of a record.
// Returns nil state when the record has no messages.
func (e *Engine) resolveExisting(ctx context.Context, tenantDID, recordID string) (*recordHistory, error) {
	msgs, err := e.messages.Query(ctx, tenantDID, &message.Filter{RecordID: recordID})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	state, err := resolveState(msgs)
	if err != nil {
		return nil, err
	}
	return &recordHistory{msgs: msgs, state: state}, nil
}
