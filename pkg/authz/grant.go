package authz

import (
	"context"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// authorizeGrant validates a delegated permission grant referenced by the
// incoming message. Expiry and revocation are judged against the message's
// own timestamp, never the wall clock, so replays resolve identically.
func (e *Evaluator) authorizeGrant(ctx context.Context, tenant string, m *message.Message, signer, grantID string) error {
	grant, err := e.store.Get(ctx, tenant, grantID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return errs.NotFound("grant %s not found", grantID)
		}
		return err
	}
	gd := &grant.Descriptor
	if gd.Interface != message.InterfacePermissions || gd.Method != message.MethodGrant {
		return errs.Unauthorized("message %s is not a permission grant", grantID)
	}

	d := &m.Descriptor
	ts := d.MessageTimestamp
	switch {
	case gd.GrantedTo != signer:
		return errs.Unauthorized("grant %s is not granted to %s", grantID, signer)
	case gd.GrantedBy != tenant:
		return errs.Unauthorized("grant %s was not issued by the tenant", grantID)
	case gd.MessageTimestamp > ts:
		return errs.Unauthorized("grant %s postdates the message", grantID)
	case gd.DateExpires != "" && ts >= gd.DateExpires:
		return errs.Unauthorized("grant %s expired at %s", grantID, gd.DateExpires)
	}

	scope := gd.Scope
	if scope == nil {
		return errs.Unauthorized("grant %s carries no scope", grantID)
	}
	if scope.Interface != d.Interface || scope.Method != d.Method {
		return errs.Unauthorized("grant %s is scoped to %s%s, not %s%s",
			grantID, scope.Interface, scope.Method, d.Interface, d.Method)
	}
	if scope.Protocol != "" && scope.Protocol != d.Protocol {
		return errs.Unauthorized("grant %s is scoped to protocol %s", grantID, scope.Protocol)
	}
	if scope.RecordID != "" && scope.RecordID != d.RecordID {
		return errs.Unauthorized("grant %s is scoped to record %s", grantID, scope.RecordID)
	}

	revoked, err := e.grantRevokedAt(ctx, tenant, grantID, gd.MessageTimestamp, ts)
	if err != nil {
		return err
	}
	if revoked {
		return errs.Unauthorized("grant %s has been revoked", grantID)
	}
	return nil
}

// grantRevokedAt reports whether a revocation of grantID exists that is newer
// than the grant and at or before the authorized message's timestamp.
func (e *Evaluator) grantRevokedAt(ctx context.Context, tenant, grantID, grantTS, messageTS string) (bool, error) {
	revocations, err := e.store.Query(ctx, tenant, &message.Filter{
		Interface: message.InterfacePermissions,
		Method:    message.MethodRevoke,
	})
	if err != nil {
		return false, err
	}
	for _, r := range revocations {
		rd := &r.Descriptor
		if rd.PermissionsGrantID != grantID {
			continue
		}
		if rd.MessageTimestamp > grantTS && rd.MessageTimestamp <= messageTS {
			return true, nil
		}
	}
	return false, nil
}
