package records

import (
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

func write(recordID, dataCID string, at time.Time) *message.Message {
	return &message.Message{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecords,
		Method:           message.MethodWrite,
		MessageTimestamp: message.Timestamp(at),
		RecordID:         recordID,
		DataCID:          dataCID,
		DataFormat:       "application/json",
	}}
}

func del(recordID string, at time.Time) *message.Message {
	return &message.Message{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecords,
		Method:           message.MethodDelete,
		MessageTimestamp: message.Timestamp(at),
		RecordID:         recordID,
	}}
}

var t0 = time.Unix(1700000000, 0)

func TestResolveEmptySet(t *testing.T) {
	_, err := Resolve(nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestResolveSingleWrite(t *testing.T) {
	w := write("r1", "data-1", t0)
	state, err := Resolve([]*message.Message{w})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "data-1", state.Newest.Descriptor.DataCID)
	assert.Same(t, w, state.Initial)
}

func TestResolveDeleteWins(t *testing.T) {
	msgs := []*message.Message{
		write("r1", "data-1", t0),
		del("r1", t0.Add(time.Hour)),
	}
	state, err := Resolve(msgs)
	require.NoError(t, err)
	assert.Equal(t, StatusTombstoned, state.Status)
	assert.NotNil(t, state.Initial)
}

func TestResolveTimestampTieBreaksOnCID(t *testing.T) {
	a := write("r1", "data-a", t0)
	b := write("r1", "data-b", t0)
	ca, err := a.CID()
	require.NoError(t, err)
	cb, err := b.CID()
	require.NoError(t, err)
	require.NotEqual(t, ca, cb)

	wantCID := ca
	if cb > ca {
		wantCID = cb
	}

	state, err := Resolve([]*message.Message{a, b})
	require.NoError(t, err)
	assert.Equal(t, wantCID, state.NewestCID, "larger CID wins a timestamp tie")

	// Order-insensitive.
	state2, err := Resolve([]*message.Message{b, a})
	require.NoError(t, err)
	assert.Equal(t, wantCID, state2.NewestCID)
}

func TestResolveIgnoringTombstones(t *testing.T) {
	msgs := []*message.Message{
		write("r1", "data-1", t0),
		del("r1", t0.Add(time.Hour)),
	}
	state, err := ResolveIgnoringTombstones(msgs)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "data-1", state.Newest.Descriptor.DataCID)
}

func TestTombstoneMonotonicity(t *testing.T) {
	// Once a delete is newest, adding older writes can never flip the record
	// back to Active.
	msgs := []*message.Message{
		write("r1", "data-1", t0),
		del("r1", t0.Add(2*time.Hour)),
	}
	state, err := Resolve(msgs)
	require.NoError(t, err)
	require.Equal(t, StatusTombstoned, state.Status)

	msgs = append(msgs, write("r1", "data-2", t0.Add(time.Hour)))
	state, err = Resolve(msgs)
	require.NoError(t, err)
	assert.Equal(t, StatusTombstoned, state.Status)
}

func TestSuperseded(t *testing.T) {
	w1 := write("r1", "data-1", t0)
	w2 := write("r1", "data-2", t0.Add(time.Hour))
	cids, err := Superseded([]*message.Message{w1, w2})
	require.NoError(t, err)
	c1, _ := w1.CID()
	assert.Equal(t, []string{c1}, cids)
}

func TestResolveDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolution is insensitive to input order", prop.ForAll(
		func(dataCIDs []string, seed int64) bool {
			if len(dataCIDs) == 0 {
				return true
			}
			msgs := make([]*message.Message, 0, len(dataCIDs))
			for i, dc := range dataCIDs {
				msgs = append(msgs, write("r1", dc, t0.Add(time.Duration(i%3)*time.Minute)))
			}
			ref, err := Resolve(msgs)
			if err != nil {
				return false
			}

			shuffled := make([]*message.Message, len(msgs))
			copy(shuffled, msgs)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			got, err := Resolve(shuffled)
			return err == nil && got.NewestCID == ref.NewestCID && got.Status == ref.Status
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestValidateIncomingWriteNewRecord(t *testing.T) {
	author := "did:example:alice"
	d := message.Descriptor{
		Interface:        message.InterfaceRecords,
		Method:           message.MethodWrite,
		MessageTimestamp: message.Timestamp(t0),
		DataCID:          "data-1",
		DataFormat:       "application/json",
	}
	entryID, err := message.EntryID(&d, author)
	require.NoError(t, err)
	d.RecordID = entryID

	m := &message.Message{Descriptor: d}
	require.NoError(t, ValidateIncomingWrite(m, author, nil))

	m.Descriptor.RecordID = "forged"
	err = ValidateIncomingWrite(m, author, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalid, errs.KindOf(err))
}

func TestValidateIncomingWriteImmutableLineage(t *testing.T) {
	initial := write("r1", "data-1", t0)
	initial.Descriptor.Schema = "https://example.com/note"
	state, err := Resolve([]*message.Message{initial})
	require.NoError(t, err)

	overwrite := write("r1", "data-2", t0.Add(time.Hour))
	overwrite.Descriptor.Schema = "https://example.com/other"
	err = ValidateIncomingWrite(overwrite, "did:example:alice", state)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalid, errs.KindOf(err))

	overwrite.Descriptor.Schema = initial.Descriptor.Schema
	require.NoError(t, ValidateIncomingWrite(overwrite, "did:example:alice", state))
}

func TestValidateIncomingWriteTombstoneBlocks(t *testing.T) {
	state, err := Resolve([]*message.Message{
		write("r1", "data-1", t0),
		del("r1", t0.Add(time.Hour)),
	})
	require.NoError(t, err)

	late := write("r1", "data-2", t0.Add(2*time.Hour))
	err = ValidateIncomingWrite(late, "did:example:alice", state)
	require.Error(t, err)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestValidateIncomingDelete(t *testing.T) {
	require.Error(t, ValidateIncomingDelete(nil))

	state, err := Resolve([]*message.Message{write("r1", "data-1", t0)})
	require.NoError(t, err)
	require.NoError(t, ValidateIncomingDelete(state))

	state, err = Resolve([]*message.Message{write("r1", "d", t0), del("r1", t0.Add(time.Hour))})
	require.NoError(t, err)
	assert.Error(t, ValidateIncomingDelete(state))
}
