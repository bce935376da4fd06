package activitypub

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyBits = 2048

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// WrapPrivateKey encrypts a PEM private key with a key derived from kek.
// The returned ciphertext carries its nonce as a prefix.
func WrapPrivateKey(privatePem []byte, kek string) (ciphertext, salt []byte, err error) {
	if kek == "" {
		return nil, nil, errors.New("empty key encryption key")
	}
	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}

	aead, err := chacha20poly1305.NewX(deriveKey(kek, salt))
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(privatePem)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aead.Seal(nonce, nonce, privatePem, nil), salt, nil
}

// UnwrapPrivateKey reverses WrapPrivateKey and parses the key.
func UnwrapPrivateKey(ciphertext, salt []byte, kek string) (*rsa.PrivateKey, error) {
	aead, err := chacha20poly1305.NewX(deriveKey(kek, salt))
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("wrapped key too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap private key: %w", err)
	}
	return ParsePrivateKey(string(plain))
}

func deriveKey(kek string, salt []byte) []byte {
	return argon2.IDKey([]byte(kek), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// SigningKey unwraps the private key of a local actor.
func SigningKey(actor *domain.Actor, kek string) (*rsa.PrivateKey, error) {
	if !actor.Local || len(actor.PrivateKey) == 0 {
		return nil, fmt.Errorf("actor %s has no private key", actor.ID)
	}
	return UnwrapPrivateKey(actor.PrivateKey, actor.PrivateKeySalt, kek)
}

// newWrappedKeypair generates an RSA keypair and wraps the private half.
func newWrappedKeypair(kek string) (publicPem string, wrapped, salt []byte, err error) {
	pair, err := util.GeneratePemKeypair(keyBits)
	if err != nil {
		return "", nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	wrapped, salt, err = WrapPrivateKey([]byte(pair.Private), kek)
	if err != nil {
		return "", nil, nil, err
	}
	return pair.Public, wrapped, salt, nil
}
