package activitypub

import (
	"testing"

	"github.com/deemkeen/stegofed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActivityReferences(t *testing.T) {
	act, err := ParseActivity([]byte(`{"id":"https://b.example/a/1","type":"Follow","actor":"https://b.example/users/bob","object":"https://local.example/users/alice"}`))
	require.NoError(t, err)
	follow, ok := act.(*Follow)
	require.True(t, ok)
	assert.Equal(t, IDRef("https://local.example/users/alice"), follow.Envelope().Object)

	act, err = ParseActivity([]byte(`{"id":"https://b.example/a/2","type":"Create","actor":"https://b.example/users/bob",
		"to":["https://local.example/users/alice"],"cc":["https://local.example/users/alice","https://b.example/users/bob/followers"],
		"object":{"id":"https://b.example/notes/1","type":"Note","content":"hi"}}`))
	require.NoError(t, err)
	create, ok := act.(*Create)
	require.True(t, ok)
	env := create.Envelope()
	embedded, ok := env.Object.(Embedded)
	require.True(t, ok)
	assert.Equal(t, "https://b.example/notes/1", embedded.ID())
	assert.Equal(t, "Note", embedded.Type())
	assert.Equal(t, []string{"https://local.example/users/alice", "https://b.example/users/bob/followers"}, env.Recipients())
}

func TestParseActivityRejects(t *testing.T) {
	_, err := ParseActivity([]byte(`{"type":"Flag","actor":"https://b.example/users/bob","object":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownVerb)

	_, err = ParseActivity([]byte(`{"type":"Like","object":"https://local.example/objects/1"}`))
	assert.Error(t, err)

	_, err = ParseActivity([]byte(`{"type":"Like","actor":"https://b.example/users/bob"}`))
	assert.Error(t, err)

	_, err = ParseActivity([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference([]any{"https://b.example/notes/1"})
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/notes/1", ref.ID())

	_, err = ParseReference([]any{"a", "b"})
	assert.Error(t, err)
	_, err = ParseReference(42)
	assert.Error(t, err)
}

func TestEnvelopeEmbeddedOfIDRef(t *testing.T) {
	env := &Envelope{Object: IDRef("https://b.example/notes/1")}
	assert.Equal(t, domain.Properties{"id": "https://b.example/notes/1"}, env.Embedded().Props)
}
