package activitypub

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
	"github.com/rs/zerolog/log"
)

// MaxClockSkew bounds the age of the Date header of a signed request.
const MaxClockSkew = 12 * time.Hour

var (
	postSignedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}
	getSignedHeaders  = []string{httpsig.RequestTarget, "host", "date"}
)

// Digest returns the Digest header value of body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SignRequest signs an outgoing request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
//
// Requests with a body get a Digest header and sign it; bodiless GETs sign
// (request-target), host and date only.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Set("Host", req.URL.Host)

	headers := getSignedHeaders
	if body != nil {
		req.Header.Set("Digest", Digest(body))
		headers = postSignedHeaders
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	// the digest is already set, so the signer must not compute it again
	return signer.SignRequest(privateKey, keyId, req, nil)
}

// SignatureParams are the components of a Signature header.
type SignatureParams struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature string
}

// ParseSignatureHeader splits a Signature header into its components.
func ParseSignatureHeader(value string) (*SignatureParams, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrAuthentication)
	}
	params := &SignatureParams{}
	for _, part := range splitParams(value) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		switch strings.TrimSpace(k) {
		case "keyId":
			params.KeyID = v
		case "algorithm":
			params.Algorithm = v
		case "headers":
			params.Headers = strings.Fields(strings.ToLower(v))
		case "signature":
			params.Signature = v
		}
	}
	if params.KeyID == "" || params.Signature == "" {
		return nil, fmt.Errorf("%w: incomplete signature header", ErrAuthentication)
	}
	if len(params.Headers) == 0 {
		// draft-cavage default
		params.Headers = []string{"date"}
	}
	return params, nil
}

// splitParams splits on commas outside quoted values.
func splitParams(value string) []string {
	var parts []string
	inQuote := false
	start := 0
	for i, r := range value {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				parts = append(parts, value[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, value[start:])
}

// KeyResolver looks up the public key behind a keyId. With refresh set the
// key must be fetched again from its origin.
type KeyResolver interface {
	PublicKey(ctx context.Context, keyID string, refresh bool) (owner string, publicKeyPem string, err error)
}

// Verifier authenticates inbound federation requests.
type Verifier struct {
	keys    KeyResolver
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(keys KeyResolver) *Verifier {
	return &Verifier{keys: keys, maxSkew: MaxClockSkew, now: time.Now}
}

// Verify checks the signature and digest of req against body and returns
// the id of the actor owning the signing key. Every failure wraps
// ErrAuthentication, except a signer answering 410 which yields ErrActorGone.
func (v *Verifier) Verify(ctx context.Context, req *http.Request, body []byte) (string, error) {
	params, err := ParseSignatureHeader(req.Header.Get("Signature"))
	if err != nil {
		return "", err
	}

	required := getSignedHeaders
	if req.Method == http.MethodPost {
		required = postSignedHeaders
	}
	for _, h := range required {
		if !slices.Contains(params.Headers, h) {
			return "", fmt.Errorf("%w: %s is not signed", ErrAuthentication, h)
		}
	}

	if err := v.checkDate(req.Header.Get("Date")); err != nil {
		return "", err
	}

	if req.Method == http.MethodPost || req.Header.Get("Digest") != "" {
		if err := verifyDigest(req.Header.Get("Digest"), body); err != nil {
			return "", err
		}
	}

	// servers behind proxies see the host only on the request itself
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.Host)
	}

	owner, keyPem, err := v.keys.PublicKey(ctx, params.KeyID, false)
	if err != nil {
		return "", keyError(params.KeyID, err)
	}
	if err := verifySignature(req, keyPem); err == nil {
		return owner, nil
	}

	// the signer may have rotated its key since we cached it
	log.Debug().Str("component", "httpsig").Str("keyId", params.KeyID).Msg("Signature mismatch, refetching key")
	owner, keyPem, err = v.keys.PublicKey(ctx, params.KeyID, true)
	if err != nil {
		return "", keyError(params.KeyID, err)
	}
	if err := verifySignature(req, keyPem); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return owner, nil
}

func (v *Verifier) checkDate(value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing date", ErrAuthentication)
	}
	date, err := http.ParseTime(value)
	if err != nil {
		return fmt.Errorf("%w: invalid date %q", ErrAuthentication, value)
	}
	skew := v.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("%w: date %q outside allowed window", ErrAuthentication, value)
	}
	return nil
}

func keyError(keyID string, err error) error {
	if errors.Is(err, ErrActorGone) {
		return err
	}
	return fmt.Errorf("%w: resolve key %s: %v", ErrAuthentication, keyID, err)
}

func verifyDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("%w: missing digest", ErrAuthentication)
	}
	expected := Digest(body)
	// several algorithms may be listed; only SHA-256 is accepted
	for _, d := range strings.Split(header, ",") {
		d = strings.TrimSpace(d)
		algo, _, _ := strings.Cut(d, "=")
		if !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte("SHA-256="+d[len(algo)+1:]), []byte(expected)) == 1 {
			return nil
		}
		return fmt.Errorf("%w: digest mismatch", ErrAuthentication)
	}
	return fmt.Errorf("%w: unsupported digest %q", ErrAuthentication, header)
}

func verifySignature(req *http.Request, keyPem string) error {
	pubKey, err := ParsePublicKey(keyPem)
	if err != nil {
		return err
	}
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// KeyOwner strips the fragment from a keyId.
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func KeyOwner(keyID string) string {
	owner, _, _ := strings.Cut(keyID, "#")
	return owner
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
