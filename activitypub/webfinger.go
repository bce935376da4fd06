package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/stegofed/domain"
)

// WebfingerResponse is a JRD document.
type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// NewWebfingerResponse describes a local actor.
func NewWebfingerResponse(actor *domain.Actor) *WebfingerResponse {
	return &WebfingerResponse{
		Subject: "acct:" + actor.Acct(),
		Aliases: []string{actor.ID},
		Links: []WebfingerLink{
			{Rel: "self", Type: ContentType, Href: actor.ID},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor.ID},
		},
	}
}

// ParseHandle splits "user@domain", "@user@domain" or "acct:user@domain".
func ParseHandle(handle string) (username, host string, err error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "acct:")
	handle = strings.TrimPrefix(handle, "@")
	username, host, ok := strings.Cut(handle, "@")
	if !ok || username == "" || host == "" || strings.Contains(host, "@") {
		return "", "", fmt.Errorf("invalid handle %q", handle)
	}
	return username, strings.ToLower(host), nil
}

// ResolveHandle discovers the actor behind a user@domain handle.
func (s *ActorStore) ResolveHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	username, host, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	if host == s.opts.Domain {
		return s.GetLocal(ctx, username)
	}
	if known, err := s.db.ReadActorByUsername(ctx, username, host); err == nil {
		return s.Resolve(ctx, known.ID)
	}

	href, err := s.discover(ctx, username, host)
	if err != nil {
		return nil, fmt.Errorf("%w: webfinger %s@%s: %v", ErrUnresolvable, username, host, err)
	}
	return s.Resolve(ctx, href)
}

func (s *ActorStore) discover(ctx context.Context, username, host string) (string, error) {
	scheme := s.opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s",
		scheme, host, url.QueryEscape("acct:"+username+"@"+host))

	body, err := s.fetch.Get(ctx, endpoint, "application/jrd+json, application/json")
	if err != nil {
		return "", err
	}
	var jrd WebfingerResponse
	if err := json.Unmarshal(body, &jrd); err != nil {
		return "", fmt.Errorf("failed to parse webfinger response: %w", err)
	}
	for _, link := range jrd.Links {
		if link.Rel != "self" || link.Href == "" {
			continue
		}
		if link.Type == ContentType || strings.HasPrefix(link.Type, "application/ld+json") {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no activitypub self link")
}
