package activitypub

import (
	"testing"

	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPrivateKeyRoundtrip(t *testing.T) {
	pair, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)

	wrapped, salt, err := WrapPrivateKey([]byte(pair.Private), "secret")
	require.NoError(t, err)
	assert.NotContains(t, string(wrapped), "PRIVATE KEY")

	key, err := UnwrapPrivateKey(wrapped, salt, "secret")
	require.NoError(t, err)
	expected, err := ParsePrivateKey(pair.Private)
	require.NoError(t, err)
	assert.Equal(t, 0, key.N.Cmp(expected.N))

	_, err = UnwrapPrivateKey(wrapped, salt, "wrong")
	assert.Error(t, err)
}

func TestWrapPrivateKeyRequiresKEK(t *testing.T) {
	_, _, err := WrapPrivateKey([]byte("key"), "")
	assert.Error(t, err)
}

func TestSigningKeyOfRemoteActor(t *testing.T) {
	_, err := SigningKey(&domain.Actor{ID: bobID}, "secret")
	assert.Error(t, err)
}
