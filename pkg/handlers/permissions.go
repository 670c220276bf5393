package handlers

import (
	"context"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

func (e *Engine) permissionsGrant(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	signer, err := e.authenticate(ctx, m)
	if err != nil {
		return Failure(err)
	}
	d := &m.Descriptor
	if d.GrantedBy != tenantDID {
		return Failure(errs.Invalid("grantedBy must be the tenant"))
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, signer, nil); err != nil {
		return Failure(err)
	}
	if _, err := e.accept(ctx, tenantDID, m); err != nil {
		return Failure(err)
	}
	return OK()
}

func (e *Engine) permissionsRevoke(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	signer, err := e.authenticate(ctx, m)
	if err != nil {
		return Failure(err)
	}
	d := &m.Descriptor

	grant, err := e.messages.Get(ctx, tenantDID, d.PermissionsGrantID)
	if err != nil {
		return Failure(err)
	}
	gd := &grant.Descriptor
	if gd.Interface != message.InterfacePermissions || gd.Method != message.MethodGrant {
		return Failure(errs.Invalid("message %s is not a permission grant", d.PermissionsGrantID))
	}
	if gd.MessageTimestamp >= d.MessageTimestamp {
		return Failure(errs.Invalid("revocation must be newer than the grant"))
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, signer, nil); err != nil {
		return Failure(err)
	}
	if _, err := e.accept(ctx, tenantDID, m); err != nil {
		return Failure(err)
	}
	return OK()
}
