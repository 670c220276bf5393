package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

func writeDescriptor(ts string) Descriptor {
	return Descriptor{
		Interface:        InterfaceRecords,
		Method:           MethodWrite,
		MessageTimestamp: ts,
		RecordID:         "rec-1",
		DataCID:          "0a1b",
		DataFormat:       "application/json",
	}
}

func TestCIDDeterministic(t *testing.T) {
	m := &Message{Descriptor: writeDescriptor(Timestamp(time.Unix(1700000000, 0)))}
	c1, err := m.CID()
	require.NoError(t, err)
	c2, err := m.CID()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Len(t, c1, 64)
}

func TestCIDIgnoresEncodedData(t *testing.T) {
	ts := Timestamp(time.Unix(1700000000, 0))
	bare := &Message{Descriptor: writeDescriptor(ts)}
	inlined := &Message{Descriptor: writeDescriptor(ts), EncodedData: []byte("hello")}

	c1, err := bare.CID()
	require.NoError(t, err)
	c2, err := inlined.CID()
	require.NoError(t, err)
	assert.Equal(t, c1, c2, "inlined payload must not change message identity")
}

func TestCIDCoversAuthorization(t *testing.T) {
	ts := Timestamp(time.Unix(1700000000, 0))
	anon := &Message{Descriptor: writeDescriptor(ts)}
	signed := &Message{Descriptor: writeDescriptor(ts), Authorization: &Envelope{Signatures: []string{"a.b.c"}}}

	c1, err := anon.CID()
	require.NoError(t, err)
	c2, err := signed.CID()
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestCIDPurityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical content yields identical CID", prop.ForAll(
		func(recordID, schema, dataCID string) bool {
			ts := Timestamp(time.Unix(1700000000, 0))
			d := writeDescriptor(ts)
			d.RecordID = recordID
			d.Schema = schema
			d.DataCID = dataCID
			a := &Message{Descriptor: d}
			b := &Message{Descriptor: d, EncodedData: []byte(schema)}
			ca, err1 := a.CID()
			cb, err2 := b.CID()
			return err1 == nil && err2 == nil && ca == cb
		},
		gen.AlphaString(),
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestParseRejectsUnknownInterface(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"descriptor": map[string]any{
			"interface":        "Gadgets",
			"method":           "Write",
			"messageTimestamp": Timestamp(time.Now()),
		},
	})
	_, err := Parse(raw)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalid, errs.KindOf(err))
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string]Descriptor{
		"write without dataCid": {
			Interface: InterfaceRecords, Method: MethodWrite,
			MessageTimestamp: Timestamp(time.Now()), RecordID: "r", DataFormat: "text/plain",
		},
		"delete without recordId": {
			Interface: InterfaceRecords, Method: MethodDelete,
			MessageTimestamp: Timestamp(time.Now()),
		},
		"grant without scope": {
			Interface: InterfacePermissions, Method: MethodGrant,
			MessageTimestamp: Timestamp(time.Now()), GrantedTo: "did:example:bob",
		},
		"query without filter": {
			Interface: InterfaceRecords, Method: MethodQuery,
			MessageTimestamp: Timestamp(time.Now()),
		},
	}
	for name, d := range cases {
		raw, err := json.Marshal(Message{Descriptor: d})
		require.NoError(t, err, name)
		_, err = Parse(raw)
		require.Error(t, err, name)
		assert.Equal(t, errs.KindInvalid, errs.KindOf(err), name)
	}
}

func TestParseRejectsEmptyEnvelope(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"descriptor":    writeDescriptor(Timestamp(time.Now())),
		"authorization": map[string]any{"signatures": []string{}},
	})
	_, err := Parse(raw)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalid, errs.KindOf(err))
}

func TestTimestampLexicographicOrder(t *testing.T) {
	t1 := Timestamp(time.Unix(1700000000, 123000))
	t2 := Timestamp(time.Unix(1700000001, 0))
	assert.Less(t, t1, t2)
}

func TestFilterMatches(t *testing.T) {
	d := writeDescriptor(Timestamp(time.Unix(1700000000, 0)))
	d.Protocol = "https://example.com/chat"

	assert.True(t, (&Filter{Interface: InterfaceRecords}).Matches(&d))
	assert.True(t, (&Filter{Protocol: "https://example.com/chat"}).Matches(&d))
	assert.False(t, (&Filter{Method: MethodDelete}).Matches(&d))
	assert.False(t, (&Filter{DateFrom: Timestamp(time.Unix(1800000000, 0))}).Matches(&d))
	assert.True(t, (*Filter)(nil).Matches(&d))
}

func TestProtocolDefinitionValidate(t *testing.T) {
	def := &ProtocolDefinition{
		Protocol: "https://example.com/chat",
		Version:  "1.0.0",
		Structure: map[string]*RuleSet{
			"thread": {
				Actions: []ActionRule{{Who: ActorAnyone, Can: []Action{ActionRead}}},
				Records: map[string]*RuleSet{
					"message": {
						Actions: []ActionRule{
							{Who: ActorRecipient, Of: "thread", Can: []Action{ActionWrite}},
						},
					},
				},
			},
		},
	}
	require.NoError(t, def.Validate())

	rs, err := def.RuleSetAt("thread/message")
	require.NoError(t, err)
	assert.Equal(t, ActorRecipient, rs.Actions[0].Who)

	_, err = def.RuleSetAt("thread/unknown")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	def.Version = "not-semver"
	assert.Error(t, def.Validate())
}

func TestProtocolPathNormalized(t *testing.T) {
	// "é" precomposed vs combining sequence must hash identically.
	d1 := writeDescriptor(Timestamp(time.Unix(1700000000, 0)))
	d1.Protocol = "https://example.com/café"
	d1.ProtocolPath = "root"
	d2 := writeDescriptor(Timestamp(time.Unix(1700000000, 0)))
	d2.Protocol = "https://example.com/cafe\u0301" // combining accent
	d2.ProtocolPath = "root"

	require.NoError(t, d1.Validate())
	require.NoError(t, d2.Validate())
	assert.Equal(t, d1.Protocol, d2.Protocol)
}
