// Package records derives the current authoritative state of a record from
// its unordered message history. Resolution is pure: no I/O, no clocks, and
// the same input set always yields the same verdict regardless of input order.
package records

import (
	"sort"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// Status classifies a resolved record.
type Status string

const (
	// StatusActive means the newest message is a write; the record carries
	// that write's descriptor and data reference.
	StatusActive Status = "Active"
	// StatusTombstoned means the newest message is a delete. The record holds
	// no data but its history still blocks new writes under the same recordId.
	StatusTombstoned Status = "Tombstoned"
)

// State is the resolver's verdict over a message set.
type State struct {
	Status Status
	// Newest is the winning message: the write whose descriptor is current,
	// or the delete that tombstoned the record.
	Newest *message.Message
	// NewestCID is Newest's content identifier.
	NewestCID string
	// Initial is the record's initial entry (oldest write), which carries the
	// immutable lineage fields.
	Initial *message.Message
}

// candidate pairs a message with its precomputed CID so sorting never
// recomputes digests.
type candidate struct {
	msg *message.Message
	cid string
}

// Resolve computes the current state of a record from the full set of its
// messages. Candidates are ordered by (messageTimestamp, cid) descending;
// the timestamp is the primary key and the CID breaks ties, so the order is
// total and the newest message unique. An empty set is KindNotFound.
func Resolve(msgs []*message.Message) (*State, error) {
	return resolve(msgs, false)
}

// ResolveIgnoringTombstones resolves as if delete messages were absent. Used
// for audit queries that need to inspect superseded writes.
func ResolveIgnoringTombstones(msgs []*message.Message) (*State, error) {
	return resolve(msgs, true)
}

func resolve(msgs []*message.Message, ignoreTombstones bool) (*State, error) {
	candidates := make([]candidate, 0, len(msgs))
	for _, m := range msgs {
		if ignoreTombstones && m.Descriptor.Method == message.MethodDelete {
			continue
		}
		cid, err := m.CID()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{msg: m, cid: cid})
	}
	if len(candidates) == 0 {
		return nil, errs.NotFound("record has no messages")
	}

	// Descending: newest first. Fixed-width timestamps compare correctly as
	// strings.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.msg.Descriptor.MessageTimestamp != b.msg.Descriptor.MessageTimestamp {
			return a.msg.Descriptor.MessageTimestamp > b.msg.Descriptor.MessageTimestamp
		}
		return a.cid > b.cid
	})

	newest := candidates[0]
	state := &State{
		Newest:    newest.msg,
		NewestCID: newest.cid,
		Initial:   initialWrite(candidates),
	}
	if newest.msg.Descriptor.Method == message.MethodDelete {
		state.Status = StatusTombstoned
	} else {
		state.Status = StatusActive
	}
	return state, nil
}

// initialWrite picks the oldest write in the (descending) candidate order.
func initialWrite(candidates []candidate) *message.Message {
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].msg.Descriptor.Method == message.MethodWrite {
			return candidates[i].msg
		}
	}
	return nil
}

// Superseded returns the CIDs of all messages other than the newest. Pruning
// them is a store-level concern; the resolver only identifies them.
func Superseded(msgs []*message.Message) ([]string, error) {
	state, err := Resolve(msgs)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range msgs {
		cid, err := m.CID()
		if err != nil {
			return nil, err
		}
		if cid != state.NewestCID {
			out = append(out, cid)
		}
	}
	return out, nil
}
