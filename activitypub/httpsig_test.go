package activitypub

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "https://b.example/users/bob#main-key"

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	publicPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes})
	return privateKey, string(publicPem)
}

// staticKeys serves a key per keyId; rotated keys are handed out on refresh.
type staticKeys struct {
	keys      map[string]string
	rotated   map[string]string
	err       error
	refreshes int
}

func (k *staticKeys) PublicKey(ctx context.Context, keyID string, refresh bool) (string, string, error) {
	if k.err != nil {
		return "", "", k.err
	}
	if refresh {
		k.refreshes++
		if pem, ok := k.rotated[keyID]; ok {
			return KeyOwner(keyID), pem, nil
		}
	}
	pem, ok := k.keys[keyID]
	if !ok {
		return "", "", ErrUnresolvable
	}
	return KeyOwner(keyID), pem, nil
}

func signedPost(t *testing.T, key *rsa.PrivateKey, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://local.example/users/alice/inbox", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentType)
	require.NoError(t, SignRequest(req, key, testKeyID, body))
	return req
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	parsed, err := ParsePrivateKey(string(keyPEM))
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(privateKey.N))

	_, err = ParsePrivateKey("not a valid PEM")
	assert.Error(t, err)
	_, err = ParsePrivateKey("")
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	privateKey, publicPem := generateTestKeyPair(t)

	parsed, err := ParsePublicKey(publicPem)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(privateKey.N))

	_, err = ParsePublicKey("not a valid PEM")
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "SHA-256=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", Digest([]byte{}))
}

func TestSignRequestSetsHeaders(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)
	req := signedPost(t, key, body)

	assert.NotEmpty(t, req.Header.Get("Date"))
	assert.Equal(t, "local.example", req.Header.Get("Host"))
	assert.Equal(t, Digest(body), req.Header.Get("Digest"))

	params, err := ParseSignatureHeader(req.Header.Get("Signature"))
	require.NoError(t, err)
	assert.Equal(t, testKeyID, params.KeyID)
	assert.Equal(t, []string{"(request-target)", "host", "date", "digest"}, params.Headers)
	assert.NotEmpty(t, params.Signature)
}

func TestParseSignatureHeader(t *testing.T) {
	params, err := ParseSignatureHeader(`keyId="https://b.example/users/bob#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="YWJj,ZA=="`)
	require.NoError(t, err)
	assert.Equal(t, testKeyID, params.KeyID)
	assert.Equal(t, "rsa-sha256", params.Algorithm)
	assert.Equal(t, "YWJj,ZA==", params.Signature)

	_, err = ParseSignatureHeader("")
	assert.ErrorIs(t, err, ErrAuthentication)
	_, err = ParseSignatureHeader(`algorithm="rsa-sha256"`)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestVerifySignedRequest(t *testing.T) {
	key, publicPem := generateTestKeyPair(t)
	verifier := NewVerifier(&staticKeys{keys: map[string]string{testKeyID: publicPem}})
	body := []byte(`{"type":"Follow"}`)

	owner, err := verifier.Verify(context.Background(), signedPost(t, key, body), body)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/users/bob", owner)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	key, publicPem := generateTestKeyPair(t)
	verifier := NewVerifier(&staticKeys{keys: map[string]string{testKeyID: publicPem}})
	body := []byte(`{"type":"Follow"}`)
	req := signedPost(t, key, body)

	_, err := verifier.Verify(context.Background(), req, []byte(`{"type":"Delete"}`))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	_, otherPem := generateTestKeyPair(t)
	keys := &staticKeys{keys: map[string]string{testKeyID: otherPem}}
	verifier := NewVerifier(keys)
	body := []byte(`{"type":"Follow"}`)

	_, err := verifier.Verify(context.Background(), signedPost(t, key, body), body)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, 1, keys.refreshes)
}

func TestVerifyRefetchesRotatedKey(t *testing.T) {
	key, publicPem := generateTestKeyPair(t)
	_, stalePem := generateTestKeyPair(t)
	keys := &staticKeys{
		keys:    map[string]string{testKeyID: stalePem},
		rotated: map[string]string{testKeyID: publicPem},
	}
	verifier := NewVerifier(keys)
	body := []byte(`{"type":"Follow"}`)

	_, err := verifier.Verify(context.Background(), signedPost(t, key, body), body)
	require.NoError(t, err)
	assert.Equal(t, 1, keys.refreshes)
}

func TestVerifyRejectsStaleDate(t *testing.T) {
	key, publicPem := generateTestKeyPair(t)
	verifier := NewVerifier(&staticKeys{keys: map[string]string{testKeyID: publicPem}})
	body := []byte(`{"type":"Follow"}`)

	req, err := http.NewRequest(http.MethodPost, "https://local.example/inbox", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Date", time.Now().Add(-13*time.Hour).UTC().Format(http.TimeFormat))
	require.NoError(t, SignRequest(req, key, testKeyID, body))

	_, err = verifier.Verify(context.Background(), req, body)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestVerifyRequiresDigestOnPost(t *testing.T) {
	key, publicPem := generateTestKeyPair(t)
	verifier := NewVerifier(&staticKeys{keys: map[string]string{testKeyID: publicPem}})

	// signed like a GET, without a digest
	req, err := http.NewRequest(http.MethodPost, "https://local.example/inbox", nil)
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, key, testKeyID, nil))

	_, err = verifier.Verify(context.Background(), req, []byte(`{}`))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestVerifyGoneSigner(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	verifier := NewVerifier(&staticKeys{err: ErrActorGone})
	body := []byte(`{"type":"Delete"}`)

	_, err := verifier.Verify(context.Background(), signedPost(t, key, body), body)
	assert.ErrorIs(t, err, ErrActorGone)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestVerifySignedGet(t *testing.T) {
	key, publicPem := generateTestKeyPair(t)
	verifier := NewVerifier(&staticKeys{keys: map[string]string{testKeyID: publicPem}})

	req, err := http.NewRequest(http.MethodGet, "https://local.example/users/alice", nil)
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, key, testKeyID, nil))
	assert.Empty(t, req.Header.Get("Digest"))

	owner, err := verifier.Verify(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/users/bob", owner)
}

func TestKeyOwner(t *testing.T) {
	assert.Equal(t, "https://b.example/users/bob", KeyOwner(testKeyID))
	assert.Equal(t, "https://b.example/users/bob", KeyOwner("https://b.example/users/bob"))
}
