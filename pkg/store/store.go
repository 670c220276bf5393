// Package store defines the persistence collaborators the engine consumes:
// the per-tenant message store and the raw data store. The engine never
// mutates a stored message; it reads sets of them and writes new ones.
package store

import (
	"context"
	"io"

	"github.com/TBD54566975/hubnode/pkg/message"
)

// MessageStore persists messages keyed by CID per tenant and answers
// descriptor-field queries. Implementations must treat every read as a
// snapshot that may be stale by the time a write lands.
type MessageStore interface {
	// Put persists a message under its CID. Re-putting the same CID is
	// idempotent (the message is immutable).
	Put(ctx context.Context, tenant string, m *message.Message) error
	// Get fetches a single message by CID, KindNotFound if absent.
	Get(ctx context.Context, tenant, cid string) (*message.Message, error)
	// Query returns all messages matching the filter, ordered ascending by
	// (messageTimestamp, cid).
	Query(ctx context.Context, tenant string, f *message.Filter) ([]*message.Message, error)
	// Delete removes a message by CID. Used only for store-level pruning of
	// superseded messages.
	Delete(ctx context.Context, tenant, cid string) error
}

// DataStore persists record payload bytes addressed by (tenant, messageCid,
// dataCid). Scoping blobs to the referencing message keeps orphan cleanup a
// per-message concern.
type DataStore interface {
	Put(ctx context.Context, tenant, messageCID, dataCID string, data io.Reader) error
	// Get returns the payload stream, KindNotFound if absent.
	Get(ctx context.Context, tenant, messageCID, dataCID string) (io.ReadCloser, error)
	Delete(ctx context.Context, tenant, messageCID, dataCID string) error
}
