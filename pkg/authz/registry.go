package authz

import (
	"context"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
	"github.com/TBD54566975/hubnode/pkg/store"
)

// Registry resolves the effective protocol definition for a tenant from the
// ProtocolsConfigure messages in its store. The highest installed version
// wins; equal versions fall back to (messageTimestamp, cid) so the choice is
// total and deterministic.
type Registry struct {
	store store.MessageStore
}

func NewRegistry(s store.MessageStore) *Registry {
	return &Registry{store: s}
}

// Definition returns the effective definition of a protocol URI.
func (r *Registry) Definition(ctx context.Context, tenant, protocol string) (*message.ProtocolDefinition, error) {
	msgs, err := r.store.Query(ctx, tenant, &message.Filter{
		Interface: message.InterfaceProtocols,
		Method:    message.MethodConfigure,
		Protocol:  protocol,
	})
	if err != nil {
		return nil, err
	}

	type configured struct {
		version *semver.Version
		ts      string
		cid     string
		def     *message.ProtocolDefinition
	}
	var candidates []configured
	for _, m := range msgs {
		def := m.Descriptor.Definition
		if def == nil || def.Protocol != protocol {
			continue
		}
		version, err := semver.NewVersion(def.Version)
		if err != nil {
			// Invalid versions cannot win; they were rejected at write time
			// anyway.
			continue
		}
		cid, err := m.CID()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, configured{
			version: version,
			ts:      m.Descriptor.MessageTimestamp,
			cid:     cid,
			def:     def,
		})
	}
	if len(candidates) == 0 {
		return nil, errs.NotFound("protocol %q is not configured", protocol)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if cmp := a.version.Compare(b.version); cmp != 0 {
			return cmp > 0
		}
		if a.ts != b.ts {
			return a.ts > b.ts
		}
		return a.cid > b.cid
	})
	return candidates[0].def, nil
}
