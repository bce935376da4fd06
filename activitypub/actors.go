package activitypub

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/rs/zerolog/log"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,29}$`)

// actorDocument is the JSON structure of an ActivityPub actor
type actorDocument struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name"`
	Summary           string          `json:"summary"`
	Inbox             string          `json:"inbox"`
	Outbox            string          `json:"outbox"`
	Followers         string          `json:"followers"`
	Following         string          `json:"following"`
	Icon              json.RawMessage `json:"icon"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// iconURL accepts an Image object, a list of them or a bare url.
func (d *actorDocument) iconURL() string {
	if len(d.Icon) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(d.Icon, &v); err != nil {
		return ""
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		v = list[0]
	}
	switch icon := v.(type) {
	case string:
		return icon
	case map[string]any:
		return domain.Properties(icon).String("url")
	}
	return ""
}

// ActorStore resolves actors from the store, fetching and caching remote
// ones on first reference.
type ActorStore struct {
	db    *db.DB
	fetch *Fetcher
	opts  Options
	now   func() time.Time
}

func NewActorStore(database *db.DB, fetcher *Fetcher, opts Options) *ActorStore {
	return &ActorStore{db: database, fetch: fetcher, opts: opts, now: time.Now}
}

// Get returns a stored actor without fetching.
func (s *ActorStore) Get(ctx context.Context, id string) (*domain.Actor, error) {
	return s.db.ReadActorById(ctx, id)
}

// GetLocal returns the local actor with the given username.
func (s *ActorStore) GetLocal(ctx context.Context, username string) (*domain.Actor, error) {
	actor, err := s.db.ReadActorById(ctx, s.opts.ActorURL(username))
	if err != nil {
		return nil, err
	}
	if !actor.Local {
		return nil, db.ErrNotFound
	}
	return actor, nil
}

func (s *ActorStore) GetByPublicID(ctx context.Context, publicID string) (*domain.Actor, error) {
	return s.db.ReadActorByPublicId(ctx, publicID)
}

// Resolve returns the actor with canonical URL id. Remote actors missing
// from the store or older than the refresh interval are fetched. A stale
// copy is returned when the refetch fails.
func (s *ActorStore) Resolve(ctx context.Context, id string) (*domain.Actor, error) {
	cached, err := s.db.ReadActorById(ctx, id)
	switch {
	case err == nil:
		if cached.Local || s.now().Sub(cached.LastFetchedAt) < s.opts.ActorRefresh {
			return cached, nil
		}
		refreshed, err := s.Refresh(ctx, id)
		if err != nil {
			if errors.Is(err, ErrActorGone) {
				return nil, err
			}
			log.Warn().Str("component", "actors").Str("actor", id).Err(err).Msg("Refresh failed, using cached copy")
			return cached, nil
		}
		return refreshed, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	if s.opts.IsLocal(id) {
		return nil, fmt.Errorf("%w: unknown local actor %s", ErrUnresolvable, id)
	}

	actor, err := s.fetchActor(ctx, id)
	if err != nil {
		return nil, err
	}
	publicID, err := s.db.NextID(ctx, "actors", actor.CreatedAt)
	if err != nil {
		return nil, err
	}
	actor.PublicID = publicID

	created, err := s.db.InsertActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}
	if !created {
		// another worker stored it first
		return s.db.ReadActorById(ctx, actor.ID)
	}
	if _, err := s.db.InsertPeer(ctx, actor.Domain); err != nil {
		log.Warn().Str("component", "actors").Str("domain", actor.Domain).Err(err).Msg("Failed to record peer")
	}
	log.Info().Str("component", "actors").Str("actor", actor.ID).Msg("Cached remote actor")
	return actor, nil
}

// Refresh refetches a cached remote actor and stores the new profile.
func (s *ActorStore) Refresh(ctx context.Context, id string) (*domain.Actor, error) {
	cached, err := s.db.ReadActorById(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return s.Resolve(ctx, id)
		}
		return nil, err
	}
	if cached.Local {
		return cached, nil
	}

	fresh, err := s.fetchActor(ctx, id)
	if err != nil {
		return nil, err
	}
	fresh.PublicID = cached.PublicID
	fresh.CreatedAt = cached.CreatedAt
	if err := s.db.UpdateRemoteActor(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to update remote actor: %w", err)
	}
	return fresh, nil
}

func (s *ActorStore) fetchActor(ctx context.Context, id string) (*domain.Actor, error) {
	body, err := s.fetch.Get(ctx, id, acceptHeader)
	if err != nil {
		if isGone(err) {
			return nil, fmt.Errorf("%w: %s", ErrActorGone, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	var doc actorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse actor JSON: %v", ErrUnresolvable, err)
	}
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor %s missing required fields", ErrUnresolvable, id)
	}
	if doc.ID != id {
		return nil, fmt.Errorf("%w: actor document %s served for %s", ErrUnresolvable, doc.ID, id)
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	now := s.now().UTC()
	actorType := doc.Type
	if actorType == "" {
		actorType = "Person"
	}
	return &domain.Actor{
		ID:            doc.ID,
		Type:          actorType,
		Username:      util.StripMarkup(doc.PreferredUsername),
		Domain:        domainName,
		DisplayName:   util.StripMarkup(doc.Name),
		Summary:       util.StripMarkup(doc.Summary),
		IconURL:       doc.iconURL(),
		Inbox:         doc.Inbox,
		Outbox:        doc.Outbox,
		Followers:     doc.Followers,
		Following:     doc.Following,
		SharedInbox:   doc.Endpoints.SharedInbox,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		LastFetchedAt: now,
		CreatedAt:     now,
	}, nil
}

// PublicKey implements KeyResolver.
func (s *ActorStore) PublicKey(ctx context.Context, keyID string, refresh bool) (string, string, error) {
	var (
		actor *domain.Actor
		err   error
	)
	if refresh {
		actor, err = s.Refresh(ctx, KeyOwner(keyID))
	} else {
		actor, err = s.Resolve(ctx, KeyOwner(keyID))
	}
	if err != nil {
		return "", "", err
	}
	return actor.ID, actor.PublicKeyPem, nil
}

// CreateLocal registers a local actor with a fresh keypair.
func (s *ActorStore) CreateLocal(ctx context.Context, username, displayName string) (*domain.Actor, error) {
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("invalid username %q", username)
	}
	publicPem, wrapped, salt, err := newWrappedKeypair(s.opts.UserKEK)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := s.opts.ActorURL(username)
	publicID, err := s.db.NextID(ctx, "actors", now)
	if err != nil {
		return nil, err
	}
	actor := &domain.Actor{
		ID:             id,
		PublicID:       publicID,
		Type:           "Person",
		Username:       username,
		Domain:         s.opts.Domain,
		DisplayName:    displayName,
		Inbox:          id + "/inbox",
		Outbox:         id + "/outbox",
		Followers:      id + "/followers",
		Following:      id + "/following",
		SharedInbox:    s.opts.baseURL() + "/inbox",
		PublicKeyPem:   publicPem,
		PrivateKey:     wrapped,
		PrivateKeySalt: salt,
		Local:          true,
		LastFetchedAt:  now,
		CreatedAt:      now,
	}

	created, err := s.db.InsertActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to store actor: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("actor %s already exists", username)
	}
	log.Info().Str("component", "actors").Str("actor", id).Msg("Created local actor")
	return actor, nil
}

// SigningKey unwraps the private key of a local actor with the configured KEK.
func (s *ActorStore) SigningKey(actor *domain.Actor) (*rsa.PrivateKey, error) {
	return SigningKey(actor, s.opts.UserKEK)
}

// ActorDocument renders a local actor for federation peers.
func ActorDocument(actor *domain.Actor) domain.Properties {
	doc := domain.Properties{
		"@context": []any{
			ActivityStreamsContext,
			"https://w3id.org/security/v1",
		},
		"id":                actor.ID,
		"type":              actor.Type,
		"preferredUsername": actor.Username,
		"name":              actor.DisplayName,
		"summary":           actor.Summary,
		"inbox":             actor.Inbox,
		"outbox":            actor.Outbox,
		"followers":         actor.Followers,
		"following":         actor.Following,
		"url":               actor.ID,
		"published":         actor.CreatedAt.UTC().Format(time.RFC3339),
		"publicKey": map[string]any{
			"id":           actor.KeyID(),
			"owner":        actor.ID,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}
	if actor.SharedInbox != "" {
		doc["endpoints"] = map[string]any{"sharedInbox": actor.SharedInbox}
	}
	if actor.IconURL != "" {
		doc["icon"] = map[string]any{"type": "Image", "url": actor.IconURL}
	}
	return doc
}
