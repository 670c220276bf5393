package handlers

import (
	"context"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

func (e *Engine) protocolsConfigure(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	signer, err := e.authenticate(ctx, m)
	if err != nil {
		return Failure(err)
	}
	if m.Descriptor.Definition == nil {
		return Failure(errs.Invalid("ProtocolsConfigure: definition is required"))
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, signer, nil); err != nil {
		return Failure(err)
	}
	if _, err := e.accept(ctx, tenantDID, m); err != nil {
		return Failure(err)
	}
	return OK()
}

// protocolsQuery lists installed protocol configurations. The owner sees
// every configuration; other callers see only definitions marked published.
func (e *Engine) protocolsQuery(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	ownerView := false
	if m.Authorization != nil {
		signer, err := e.authenticate(ctx, m)
		if err != nil {
			return Failure(err)
		}
		ownerView = signer == tenantDID
	}

	filter := &message.Filter{
		Interface: message.InterfaceProtocols,
		Method:    message.MethodConfigure,
		Protocol:  m.Descriptor.Protocol,
	}
	msgs, err := e.messages.Query(ctx, tenantDID, filter)
	if err != nil {
		return Failure(err)
	}

	var entries []*message.Message
	for _, cm := range msgs {
		def := cm.Descriptor.Definition
		if def == nil {
			continue
		}
		if !ownerView && !def.Published {
			continue
		}
		entries = append(entries, cm)
	}
	return EntriesReply(entries, "")
}
