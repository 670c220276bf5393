package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

const noteSchema = `{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"pinned": {"type": "boolean"}
	}
}`

func TestValidateRegisteredSchema(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("https://example.com/schemas/note", []byte(noteSchema)))
	require.True(t, v.Known("https://example.com/schemas/note"))

	require.NoError(t, v.Validate("https://example.com/schemas/note",
		[]byte(`{"title":"hello","pinned":true}`)))

	err := v.Validate("https://example.com/schemas/note", []byte(`{"pinned":true}`))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalid))

	err = v.Validate("https://example.com/schemas/note", []byte(`not json`))
	require.True(t, errs.Is(err, errs.KindInvalid))
}

func TestUnknownSchemaPassesThrough(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate("https://example.com/schemas/unseen", []byte(`"anything"`)))
	require.NoError(t, v.Validate("", []byte(`ignored`)))
	require.False(t, v.Known("https://example.com/schemas/unseen"))
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	v := NewValidator()
	err := v.Register("https://example.com/schemas/bad", []byte(`{"type": 42}`))
	require.True(t, errs.Is(err, errs.KindInvalid))
}
