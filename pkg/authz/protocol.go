package authz

import (
	"context"
	"strings"

	"github.com/TBD54566975/hubnode/pkg/auth"
	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
	"github.com/TBD54566975/hubnode/pkg/records"
)

// authorizeProtocolRole walks the protocol definition's rule tree for the
// acting path and checks the signer against each rule permitting the action.
func (e *Evaluator) authorizeProtocolRole(ctx context.Context, tenant string, m *message.Message, signer, protocol, protocolPath string, rc *Context) error {
	def, err := e.registry.Definition(ctx, tenant, protocol)
	if err != nil {
		return err
	}
	rs, err := def.RuleSetAt(protocolPath)
	if err != nil {
		return err
	}
	action, ok := actionFor(m.Descriptor.Method)
	if !ok {
		return errs.Unauthorized("method %s has no protocol action", m.Descriptor.Method)
	}

	ancestors, err := e.resolveAncestors(ctx, tenant, m, rc)
	if err != nil {
		// A broken ancestor chain is a hard authorization failure, never a
		// silent allow.
		return err
	}

	var chainErr error
	for i := range rs.Actions {
		rule := &rs.Actions[i]
		if !rule.Permits(action) {
			continue
		}
		switch rule.Who {
		case message.ActorAnyone:
			return nil
		case message.ActorAuthor, message.ActorRecipient:
			state, ok := ancestors[rule.Of]
			if !ok {
				chainErr = errs.Unauthorized("ancestor at %q is missing from the chain", rule.Of)
				continue
			}
			principal, err := principalOf(state, rule.Who)
			if err != nil {
				chainErr = err
				continue
			}
			if principal == signer {
				return nil
			}
		case message.ActorRole:
			held, err := e.holdsRole(ctx, tenant, signer, protocol, rule.Role, m.Descriptor.ContextID)
			if err != nil {
				return err
			}
			if held {
				return nil
			}
		}
	}
	if chainErr != nil {
		return chainErr
	}
	return errs.Unauthorized("no protocol rule at %q permits %s for %s", protocolPath, action, signer)
}

// resolveAncestors resolves the record chain above the acting message into a
// map keyed by protocol path. The walk is iterative and bounded by the
// maximum protocol path depth; deeper or cyclic chains are rejected.
func (e *Evaluator) resolveAncestors(ctx context.Context, tenant string, m *message.Message, rc *Context) (map[string]*records.State, error) {
	parentID := m.Descriptor.ParentID
	if parentID == "" && rc.Existing != nil && rc.Existing.Initial != nil {
		parentID = rc.Existing.Initial.Descriptor.ParentID
	}

	ancestors := make(map[string]*records.State)
	seen := make(map[string]bool)
	for depth := 0; parentID != ""; depth++ {
		if depth >= message.MaxPathDepth {
			return nil, errs.Invalid("ancestor chain exceeds max depth %d", message.MaxPathDepth)
		}
		if seen[parentID] {
			return nil, errs.Invalid("ancestor chain cycles at %s", parentID)
		}
		seen[parentID] = true

		msgs, err := e.store.Query(ctx, tenant, &message.Filter{RecordID: parentID})
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, errs.Unauthorized("ancestor record %s is missing", parentID)
		}
		state, err := records.Resolve(msgs)
		if err != nil {
			return nil, err
		}
		if state.Status == records.StatusTombstoned {
			return nil, errs.Unauthorized("ancestor record %s is tombstoned", parentID)
		}
		if state.Initial == nil {
			return nil, errs.Unauthorized("ancestor record %s has no initial entry", parentID)
		}
		ancestors[state.Initial.Descriptor.ProtocolPath] = state
		parentID = state.Initial.Descriptor.ParentID
	}
	return ancestors, nil
}

// principalOf extracts the author or recipient identity of a resolved record.
// The author is the initial entry's primary signer; the recipient is fixed by
// the initial entry's descriptor.
func principalOf(state *records.State, who message.Actor) (string, error) {
	if who == message.ActorRecipient {
		recipient := state.Initial.Descriptor.Recipient
		if recipient == "" {
			return "", errs.Unauthorized("ancestor record has no recipient")
		}
		return recipient, nil
	}
	author, err := auth.SignerOf(state.Initial)
	if err != nil {
		return "", errs.Unauthorized("ancestor record has no identifiable author")
	}
	return author, nil
}

// holdsRole reports whether signer is the recipient of an active role record
// at the given role path. Nested role paths are scoped to the message's
// context; root-level roles apply tenant-wide.
func (e *Evaluator) holdsRole(ctx context.Context, tenant, signer, protocol, rolePath, contextID string) (bool, error) {
	filter := &message.Filter{
		Interface:    message.InterfaceRecords,
		Method:       message.MethodWrite,
		Protocol:     protocol,
		ProtocolPath: rolePath,
		Recipient:    signer,
	}
	if contextID != "" && strings.Contains(rolePath, "/") {
		filter.ContextID = contextID
	}
	candidates, err := e.store.Query(ctx, tenant, filter)
	if err != nil {
		return false, err
	}

	// Role assignment holds only while the role record resolves Active.
	byRecord := make(map[string]bool)
	for _, c := range candidates {
		byRecord[c.Descriptor.RecordID] = true
	}
	for recordID := range byRecord {
		msgs, err := e.store.Query(ctx, tenant, &message.Filter{RecordID: recordID})
		if err != nil {
			return false, err
		}
		state, err := records.Resolve(msgs)
		if err != nil {
			continue
		}
		if state.Status == records.StatusActive && state.Initial != nil &&
			state.Initial.Descriptor.Recipient == signer {
			return true, nil
		}
	}
	return false, nil
}
