package store

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesReader(s string) io.Reader { return bytes.NewReader([]byte(s)) }

func TestMemoryMessageStoreQueryOrdering(t *testing.T) {
	s := NewMemoryMessageStore()
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	later := storedWrite("r1", "", t0.Add(time.Hour))
	earlier := storedWrite("r2", "", t0)
	require.NoError(t, s.Put(ctx, "t", later))
	require.NoError(t, s.Put(ctx, "t", earlier))

	got, err := s.Query(ctx, "t", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].Descriptor.RecordID)
	assert.Equal(t, "r1", got[1].Descriptor.RecordID)
}
