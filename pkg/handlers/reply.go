package handlers

import (
	"encoding/json"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/eventlog"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// Status is the reply status vocabulary. Codes reuse HTTP numbers as a
// borrowed taxonomy, not literal HTTP.
type Status struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

// GenericReply is the minimal reply every handler path produces.
type GenericReply struct {
	Status Status `json:"status"`
}

// variant tags the payload arm of a UnionReply.
type variant int

const (
	variantNone variant = iota
	variantEntries
	variantEvents
	variantRecord
)

// ResolvedRecord is a single resolved record: the winning write's descriptor
// plus its payload bytes when available.
type ResolvedRecord struct {
	RecordID   string             `json:"recordId"`
	MessageCID string             `json:"messageCid"`
	Descriptor message.Descriptor `json:"descriptor"`
	Data       []byte             `json:"data,omitempty"`
}

// UnionReply extends GenericReply with exactly one payload arm: message
// entries with a resume cursor, events with a resume cursor, or a single
// record. The arm is fixed at construction; there is no way to build a reply
// carrying two payloads.
type UnionReply struct {
	Status Status

	arm     variant
	entries []*message.Message
	events  []eventlog.Event
	record  *ResolvedRecord
	cursor  string
}

// OK is the bare success reply.
func OK() UnionReply {
	return UnionReply{Status: Status{Code: 200, Detail: "OK"}}
}

// Failure maps an engine error onto a reply via the error taxonomy.
func Failure(err error) UnionReply {
	return UnionReply{Status: Status{Code: errs.Code(err), Detail: err.Error()}}
}

// EntriesReply carries query result messages plus the cursor that resumes the
// query after the last entry.
func EntriesReply(entries []*message.Message, cursor string) UnionReply {
	return UnionReply{
		Status:  Status{Code: 200, Detail: "OK"},
		arm:     variantEntries,
		entries: entries,
		cursor:  cursor,
	}
}

// EventsReply carries an ordered slice of events plus the watermark cursor
// that resumes after the last one.
func EventsReply(events []eventlog.Event, cursor string) UnionReply {
	return UnionReply{
		Status: Status{Code: 200, Detail: "OK"},
		arm:    variantEvents,
		events: events,
		cursor: cursor,
	}
}

// RecordReply carries a single resolved record.
func RecordReply(r *ResolvedRecord) UnionReply {
	return UnionReply{
		Status: Status{Code: 200, Detail: "OK"},
		arm:    variantRecord,
		record: r,
	}
}

// Entries returns the message entries arm, if set.
func (r *UnionReply) Entries() ([]*message.Message, bool) {
	return r.entries, r.arm == variantEntries
}

// Events returns the events arm, if set.
func (r *UnionReply) Events() ([]eventlog.Event, bool) {
	return r.events, r.arm == variantEvents
}

// Record returns the record arm, if set.
func (r *UnionReply) Record() (*ResolvedRecord, bool) {
	return r.record, r.arm == variantRecord
}

// Cursor returns the pagination cursor of an entries or events arm.
func (r *UnionReply) Cursor() (string, bool) {
	if r.arm == variantEntries || r.arm == variantEvents {
		return r.cursor, r.cursor != ""
	}
	return "", false
}

// MarshalJSON emits only the arm the reply carries.
func (r UnionReply) MarshalJSON() ([]byte, error) {
	out := struct {
		Status  Status            `json:"status"`
		Entries []*message.Message `json:"entries,omitempty"`
		Events  []eventlog.Event  `json:"events,omitempty"`
		Record  *ResolvedRecord   `json:"record,omitempty"`
		Cursor  string            `json:"cursor,omitempty"`
	}{Status: r.Status}
	switch r.arm {
	case variantEntries:
		out.Entries = r.entries
		out.Cursor = r.cursor
	case variantEvents:
		out.Events = r.events
		out.Cursor = r.cursor
	case variantRecord:
		out.Record = r.record
	}
	return json.Marshal(out)
}
