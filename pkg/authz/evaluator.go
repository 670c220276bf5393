// Package authz decides whether a message's signer is permitted to perform
// the requested mutation: direct tenant authorship, a delegated permission
// grant, or a protocol-defined role. Verdicts are deterministic over the
// message history; the evaluator never consults a wall clock.
package authz

import (
	"context"

	"github.com/TBD54566975/hubnode/pkg/auth"
	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
	"github.com/TBD54566975/hubnode/pkg/records"
	"github.com/TBD54566975/hubnode/pkg/store"
)

// Context carries the record-state context of the authorization check.
type Context struct {
	// Existing is the resolved state of the target record, nil when the
	// message creates a new record.
	Existing *records.State
}

// Evaluator evaluates the authorization paths in order: owner, grant,
// protocol role. The first applicable path decides.
type Evaluator struct {
	store    store.MessageStore
	registry *Registry
}

func NewEvaluator(s store.MessageStore, registry *Registry) *Evaluator {
	return &Evaluator{store: s, registry: registry}
}

// Authorize returns nil when signer may perform m against tenant.
func (e *Evaluator) Authorize(ctx context.Context, tenant string, m *message.Message, signer string, rc *Context) error {
	if signer == "" {
		return errs.Unauthenticated("authorization requires an authenticated signer")
	}
	// Owner path: the tenant may do anything in its own universe.
	if signer == tenant {
		return nil
	}

	if claims, err := auth.ClaimsOf(m); err == nil && claims.PermissionsGrantID != "" {
		return e.authorizeGrant(ctx, tenant, m, signer, claims.PermissionsGrantID)
	}

	if rc == nil {
		rc = &Context{}
	}
	protocol, protocolPath := protocolContext(m, rc)
	if protocol != "" && protocolPath != "" {
		return e.authorizeProtocolRole(ctx, tenant, m, signer, protocol, protocolPath, rc)
	}

	return errs.Unauthorized("no applicable authorization rule for %s by %s",
		string(m.Descriptor.Interface)+string(m.Descriptor.Method), signer)
}

// protocolContext extracts the protocol coordinates of the action: from the
// message itself for writes, from the existing record's initial entry for
// deletes and reads that do not restate them.
func protocolContext(m *message.Message, rc *Context) (string, string) {
	d := &m.Descriptor
	if d.Protocol != "" && d.ProtocolPath != "" {
		return d.Protocol, d.ProtocolPath
	}
	if rc.Existing != nil && rc.Existing.Initial != nil {
		initial := &rc.Existing.Initial.Descriptor
		return initial.Protocol, initial.ProtocolPath
	}
	return "", ""
}

// actionFor maps a records method to the protocol action vocabulary.
func actionFor(method message.Method) (message.Action, bool) {
	switch method {
	case message.MethodWrite:
		return message.ActionWrite, true
	case message.MethodDelete:
		return message.ActionDelete, true
	case message.MethodRead:
		return message.ActionRead, true
	case message.MethodQuery:
		return message.ActionQuery, true
	}
	return "", false
}
