package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// MemoryMessageStore is an in-memory MessageStore for tests and ephemeral
// nodes.
type MemoryMessageStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*message.Message // tenant -> cid -> message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{tenants: make(map[string]map[string]*message.Message)}
}

func (s *MemoryMessageStore) Put(_ context.Context, tenant string, m *message.Message) error {
	cid, err := m.CID()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.tenants[tenant]
	if !ok {
		msgs = make(map[string]*message.Message)
		s.tenants[tenant] = msgs
	}
	msgs[cid] = m
	return nil
}

func (s *MemoryMessageStore) Get(_ context.Context, tenant, cid string) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.tenants[tenant][cid]
	if !ok {
		return nil, errs.NotFound("message %s not found", cid)
	}
	return m, nil
}

func (s *MemoryMessageStore) Query(_ context.Context, tenant string, f *message.Filter) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type entry struct {
		m   *message.Message
		cid string
	}
	var matched []entry
	for cid, m := range s.tenants[tenant] {
		if f.Matches(&m.Descriptor) {
			matched = append(matched, entry{m, cid})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.m.Descriptor.MessageTimestamp != b.m.Descriptor.MessageTimestamp {
			return a.m.Descriptor.MessageTimestamp < b.m.Descriptor.MessageTimestamp
		}
		return a.cid < b.cid
	})
	out := make([]*message.Message, len(matched))
	for i, e := range matched {
		out[i] = e.m
	}
	return out, nil
}

func (s *MemoryMessageStore) Delete(_ context.Context, tenant, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants[tenant], cid)
	return nil
}

// MemoryDataStore is an in-memory DataStore.
type MemoryDataStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{blobs: make(map[string][]byte)}
}

func dataKey(tenant, messageCID, dataCID string) string {
	return tenant + "/" + messageCID + "/" + dataCID
}

func (s *MemoryDataStore) Put(_ context.Context, tenant, messageCID, dataCID string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return errs.Store(err, "reading payload")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[dataKey(tenant, messageCID, dataCID)] = b
	return nil
}

func (s *MemoryDataStore) Get(_ context.Context, tenant, messageCID, dataCID string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[dataKey(tenant, messageCID, dataCID)]
	if !ok {
		return nil, errs.NotFound("data %s not found", dataCID)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemoryDataStore) Delete(_ context.Context, tenant, messageCID, dataCID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, dataKey(tenant, messageCID, dataCID))
	return nil
}
