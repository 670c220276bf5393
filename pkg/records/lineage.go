package records

import (
	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// ValidateIncomingWrite checks an incoming RecordsWrite against the record's
// resolved state. state is nil when the record does not exist yet.
//
// A new record's recordId must equal the entry ID derived from its own
// descriptor and author, which makes record creation self-certifying. An
// overwrite must target a live record (tombstones are permanent) and must not
// alter the lineage fields fixed by the initial entry.
func ValidateIncomingWrite(incoming *message.Message, author string, state *State) error {
	d := &incoming.Descriptor

	if state == nil {
		entryID, err := message.EntryID(d, author)
		if err != nil {
			return err
		}
		if d.RecordID != entryID {
			return errs.Invalid("recordId %q does not match entry id of initial write", d.RecordID)
		}
		return nil
	}

	if state.Status == StatusTombstoned {
		return errs.Unauthorized("record %q is tombstoned", d.RecordID)
	}
	if state.Initial == nil {
		return errs.Invalid("record %q has no initial entry", d.RecordID)
	}

	initial := &state.Initial.Descriptor
	switch {
	case d.Protocol != initial.Protocol:
		return errs.Invalid("protocol is immutable after the initial entry")
	case d.ProtocolPath != initial.ProtocolPath:
		return errs.Invalid("protocolPath is immutable after the initial entry")
	case d.ContextID != initial.ContextID:
		return errs.Invalid("contextId is immutable after the initial entry")
	case d.ParentID != initial.ParentID:
		return errs.Invalid("parentId is immutable after the initial entry")
	case d.Schema != initial.Schema:
		return errs.Invalid("schema is immutable after the initial entry")
	case d.DataFormat != initial.DataFormat:
		return errs.Invalid("dataFormat is immutable after the initial entry")
	}
	return nil
}

// ValidateIncomingDelete checks an incoming RecordsDelete against resolved
// state. Deleting an already tombstoned record is rejected rather than
// treated as idempotent so callers learn the tombstone exists.
func ValidateIncomingDelete(state *State) error {
	if state == nil {
		return errs.NotFound("record does not exist")
	}
	if state.Status == StatusTombstoned {
		return errs.Unauthorized("record is already tombstoned")
	}
	return nil
}
