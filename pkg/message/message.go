// Package message defines the atomic unit of the store: a signed, content-
// addressed message carrying a method-specific descriptor, plus the closed set
// of descriptor kinds and their construction-time validation.
package message

import (
	"bytes"
	"encoding/json"

	"github.com/TBD54566975/hubnode/pkg/canonicalize"
	"github.com/TBD54566975/hubnode/pkg/errs"
)

// Envelope is the signature envelope of a message. Each entry is a compact
// JWS whose claims bind the signer to the descriptor's CID and to any
// authorization claims (grant references). The first entry is the primary
// signer whose identity is used for owner checks.
type Envelope struct {
	Signatures []string `json:"signatures"`
}

// Message is immutable once created. Its identity is the content digest of
// descriptor plus authorization; EncodedData is a transport convenience and
// never contributes to identity (payload bytes are addressed by dataCid).
type Message struct {
	Descriptor    Descriptor `json:"descriptor"`
	Authorization *Envelope  `json:"authorization,omitempty"`
	EncodedData   []byte     `json:"encodedData,omitempty"`
}

// cidEnvelope is the identity-bearing subset of a message.
type cidEnvelope struct {
	Descriptor    Descriptor `json:"descriptor"`
	Authorization *Envelope  `json:"authorization,omitempty"`
}

// CID computes the message's content identifier: the hex SHA-256 of the RFC
// 8785 canonical form of descriptor plus authorization. Pure and
// deterministic; two semantically identical messages yield the same CID.
func (m *Message) CID() (string, error) {
	cid, err := canonicalize.Hash(cidEnvelope{Descriptor: m.Descriptor, Authorization: m.Authorization})
	if err != nil {
		return "", errs.Wrap(errs.KindInvalid, err, "message is not content-addressable")
	}
	return cid, nil
}

// DescriptorCID computes the content identifier of the descriptor alone. This
// is the digest each envelope signature commits to.
func (m *Message) DescriptorCID() (string, error) {
	cid, err := canonicalize.Hash(m.Descriptor)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalid, err, "descriptor is not content-addressable")
	}
	return cid, nil
}

// EntryID computes the identifier of an initial record entry: the digest of
// the descriptor bound to its author. A RecordsWrite creating a record must
// carry a recordId equal to its own entry ID. The recordId and contextId
// fields are excluded from the digest: both may hold the entry ID itself.
func EntryID(d *Descriptor, author string) (string, error) {
	scoped := *d
	scoped.RecordID = ""
	scoped.ContextID = ""
	id, err := canonicalize.Hash(struct {
		Descriptor *Descriptor `json:"descriptor"`
		Author     string      `json:"author"`
	}{&scoped, author})
	if err != nil {
		return "", errs.Wrap(errs.KindInvalid, err, "descriptor is not content-addressable")
	}
	return id, nil
}

// Parse decodes raw JSON into a Message, rejecting unknown fields and
// enforcing per-method descriptor validation. All structural failures are
// KindInvalid and occur before any other component runs.
func Parse(raw []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var m Message
	if err := dec.Decode(&m); err != nil {
		return nil, errs.Invalid("malformed message: %v", err)
	}
	if m.Authorization != nil && len(m.Authorization.Signatures) == 0 {
		return nil, errs.Invalid("authorization present but carries no signatures")
	}
	if err := m.Descriptor.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Equal reports identity equality: two messages are the same message iff
// their CIDs are equal.
func Equal(a, b *Message) (bool, error) {
	ca, err := a.CID()
	if err != nil {
		return false, err
	}
	cb, err := b.CID()
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}
