package handlers

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/TBD54566975/hubnode/pkg/authz"
	"github.com/TBD54566975/hubnode/pkg/canonicalize"
	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
	"github.com/TBD54566975/hubnode/pkg/records"
)

// QueryPageSize caps the entries returned per records query page.
const QueryPageSize = 100

// recordHistory pairs a record's raw message set with its resolved state.
type recordHistory struct {
	msgs  []*message.Message
	state *records.State
}

func resolveState(msgs []*message.Message) (*records.State, error) {
	return records.Resolve(msgs)
}

func (e *Engine) recordsWrite(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	author, err := e.authenticate(ctx, m)
	if err != nil {
		return Failure(err)
	}
	d := &m.Descriptor

	if len(m.EncodedData) > 0 {
		if canonicalize.HashBytes(m.EncodedData) != d.DataCID {
			return Failure(errs.Invalid("encodedData does not hash to dataCid"))
		}
		if err := e.schemas.Validate(d.Schema, m.EncodedData); err != nil {
			return Failure(err)
		}
	}

	release := e.locks.acquire(tenantDID, d.RecordID)
	defer release()

	history, err := e.resolveExisting(ctx, tenantDID, d.RecordID)
	if err != nil {
		return Failure(err)
	}
	var state *records.State
	if history != nil {
		state = history.state
	}

	if err := records.ValidateIncomingWrite(m, author, state); err != nil {
		return Failure(err)
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, author, &authz.Context{Existing: state}); err != nil {
		return Failure(err)
	}

	cid, err := m.CID()
	if err != nil {
		return Failure(err)
	}
	if len(m.EncodedData) > 0 {
		if err := e.data.Put(ctx, tenantDID, cid, d.DataCID, bytes.NewReader(m.EncodedData)); err != nil {
			return Failure(err)
		}
	}
	if _, err := e.accept(ctx, tenantDID, m); err != nil {
		if len(m.EncodedData) > 0 {
			if delErr := e.data.Delete(ctx, tenantDID, cid, d.DataCID); delErr != nil {
				e.log.Error("orphan payload cleanup failed",
					"tenant", tenantDID, "cid", cid, "error", delErr)
			}
		}
		return Failure(err)
	}
	return OK()
}

func (e *Engine) recordsDelete(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	author, err := e.authenticate(ctx, m)
	if err != nil {
		return Failure(err)
	}
	d := &m.Descriptor

	release := e.locks.acquire(tenantDID, d.RecordID)
	defer release()

	history, err := e.resolveExisting(ctx, tenantDID, d.RecordID)
	if err != nil {
		return Failure(err)
	}
	var state *records.State
	if history != nil {
		state = history.state
	}
	if err := records.ValidateIncomingDelete(state); err != nil {
		return Failure(err)
	}
	if err := e.eval.Authorize(ctx, tenantDID, m, author, &authz.Context{Existing: state}); err != nil {
		return Failure(err)
	}
	if _, err := e.accept(ctx, tenantDID, m); err != nil {
		return Failure(err)
	}
	return OK()
}

func (e *Engine) recordsRead(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	d := &m.Descriptor
	history, err := e.resolveExisting(ctx, tenantDID, d.RecordID)
	if err != nil {
		return Failure(err)
	}
	if history == nil || history.state.Status == records.StatusTombstoned {
		return Failure(errs.NotFound("record %s not found", d.RecordID))
	}
	state := history.state

	if err := e.authorizeRead(ctx, tenantDID, m, state); err != nil {
		return Failure(err)
	}

	resolved := &ResolvedRecord{
		RecordID:   state.Newest.Descriptor.RecordID,
		MessageCID: state.NewestCID,
		Descriptor: state.Newest.Descriptor,
	}
	data, err := e.loadData(ctx, tenantDID, state)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return Failure(err)
	}
	resolved.Data = data
	return RecordReply(resolved)
}

// authorizeRead admits anonymous and foreign reads of published records, and
// defers everything else to the evaluator.
func (e *Engine) authorizeRead(ctx context.Context, tenantDID string, m *message.Message, state *records.State) error {
	if state.Newest.Descriptor.Published {
		return nil
	}
	if m.Authorization == nil {
		return errs.Unauthenticated("record is not published; reads require authorization")
	}
	signer, err := e.authenticate(ctx, m)
	if err != nil {
		return err
	}
	return e.eval.Authorize(ctx, tenantDID, m, signer, &authz.Context{Existing: state})
}

func (e *Engine) recordsQuery(ctx context.Context, tenantDID string, m *message.Message) UnionReply {
	d := &m.Descriptor
	if d.Filter == nil {
		return Failure(errs.Invalid("RecordsQuery: filter is required"))
	}

	var signer string
	if m.Authorization != nil {
		var err error
		signer, err = e.authenticate(ctx, m)
		if err != nil {
			return Failure(err)
		}
	}
	ownerView := signer != "" && signer == tenantDID

	filter := *d.Filter
	filter.Interface = message.InterfaceRecords
	filter.Method = message.MethodWrite
	writes, err := e.messages.Query(ctx, tenantDID, &filter)
	if err != nil {
		return Failure(err)
	}

	// Resolve each matched record fully so tombstones and superseded writes
	// never surface.
	seen := make(map[string]bool)
	var entries []*message.Message
	for _, w := range writes {
		recordID := w.Descriptor.RecordID
		if seen[recordID] {
			continue
		}
		seen[recordID] = true

		history, err := e.resolveExisting(ctx, tenantDID, recordID)
		if err != nil {
			return Failure(err)
		}
		if history == nil || history.state.Status != records.StatusActive {
			continue
		}
		newest := history.state.Newest
		if !filter.Matches(&newest.Descriptor) {
			continue
		}
		if !ownerView && !newest.Descriptor.Published {
			// Unpublished records stay hidden unless a grant or protocol rule
			// admits this signer's query.
			if signer == "" {
				continue
			}
			if e.eval.Authorize(ctx, tenantDID, m, signer, &authz.Context{Existing: history.state}) != nil {
				continue
			}
		}
		entries = append(entries, newest)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := &entries[i].Descriptor, &entries[j].Descriptor
		if a.MessageTimestamp != b.MessageTimestamp {
			return a.MessageTimestamp < b.MessageTimestamp
		}
		return a.RecordID < b.RecordID
	})

	entries, cursor, err := page(entries, d.Cursor)
	if err != nil {
		return Failure(err)
	}
	return EntriesReply(entries, cursor)
}

// page applies the opaque cursor (the last returned entry's sort key) and the
// page size cap. A new cursor is handed out only when more entries remain.
func page(entries []*message.Message, cursor string) ([]*message.Message, string, error) {
	if cursor != "" {
		i := sort.Search(len(entries), func(i int) bool {
			return entrySortKey(entries[i]) > cursor
		})
		entries = entries[i:]
	}
	if len(entries) <= QueryPageSize {
		return entries, "", nil
	}
	entries = entries[:QueryPageSize]
	return entries, entrySortKey(entries[len(entries)-1]), nil
}

func entrySortKey(m *message.Message) string {
	return m.Descriptor.MessageTimestamp + "\x00" + m.Descriptor.RecordID
}

// loadData fetches the payload of an active record: data store first, falling
// back to bytes inlined on the winning write.
func (e *Engine) loadData(ctx context.Context, tenantDID string, state *records.State) ([]byte, error) {
	d := &state.Newest.Descriptor
	if d.DataCID == "" {
		return nil, nil
	}
	rc, err := e.data.Get(ctx, tenantDID, state.NewestCID, d.DataCID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) && len(state.Newest.EncodedData) > 0 {
			return state.Newest.EncodedData, nil
		}
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.Store(err, "reading record payload")
	}
	return data, nil
}
