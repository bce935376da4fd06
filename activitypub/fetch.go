package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
)

const (
	ContentType  = "application/activity+json"
	acceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	maxDocumentBytes = 1 << 20
)

// StatusError is returned for a non-2xx answer of a remote server.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status: %d", e.URL, e.Code)
}

// Fetcher performs outbound federation HTTP requests.
type Fetcher struct {
	client    *http.Client
	userAgent string

	// instance key used to sign GETs (authorized fetch)
	keyID string
	key   *rsa.PrivateKey
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: util.UserAgent(),
	}
}

// SignWith makes every GET carry a signature made with key.
func (f *Fetcher) SignWith(keyID string, key *rsa.PrivateKey) {
	f.keyID = keyID
	f.key = key
}

// GetDocument fetches an ActivityStreams document.
func (f *Fetcher) GetDocument(ctx context.Context, url string) (domain.Properties, error) {
	body, err := f.Get(ctx, url, acceptHeader)
	if err != nil {
		return nil, err
	}
	var doc domain.Properties
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", url, err)
	}
	return doc, nil
}

// Get performs a content negotiated GET and returns the body.
func (f *Fetcher) Get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", f.userAgent)

	if f.key != nil {
		if err := SignRequest(req, f.key, f.keyID, nil); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// Post delivers a signed activity to an inbox and returns the status code.
func (f *Fetcher) Post(ctx context.Context, inbox string, activity []byte, keyID string, key *rsa.PrivateKey) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(activity))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", f.userAgent)

	if err := SignRequest(req, key, keyID, activity); err != nil {
		return 0, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{URL: inbox, Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

func isGone(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusGone
}
