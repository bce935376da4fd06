package activitypub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// ObjectStore caches content objects keyed by their original identity.
type ObjectStore struct {
	db     *db.DB
	actors *ActorStore
	fetch  *Fetcher
	opts   Options
	now    func() time.Time
}

func NewObjectStore(database *db.DB, actors *ActorStore, fetcher *Fetcher, opts Options) *ObjectStore {
	return &ObjectStore{db: database, actors: actors, fetch: fetcher, opts: opts, now: time.Now}
}

// wireless strips the fields that the envelope carries itself.
func wireless(props domain.Properties) domain.Properties {
	out := props.Clone()
	delete(out, "@context")
	delete(out, "id")
	delete(out, "type")
	return out
}

// CacheOrUpdate stores a remote object. A second call for the same original
// id replaces the property bag of the existing row and reports created=false;
// its public id and creation time are kept.
func (s *ObjectStore) CacheOrUpdate(ctx context.Context, props domain.Properties, origin *domain.Actor) (*domain.Object, bool, error) {
	originalID := props.String("id")
	if originalID == "" {
		return nil, false, fmt.Errorf("%w: object without id", ErrUnresolvable)
	}
	bag := wireless(props)

	existing, err := s.db.ReadObjectByOriginalId(ctx, originalID)
	if err == nil {
		if err := s.db.ReplaceObjectProperties(ctx, existing.ID, bag, nil); err != nil {
			return nil, false, fmt.Errorf("failed to update object: %w", err)
		}
		existing.Properties = bag
		return existing, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	publicID, err := s.db.NextID(ctx, "objects", now)
	if err != nil {
		return nil, false, err
	}
	obj := &domain.Object{
		ID:         s.opts.newObjectURL(),
		Type:       props.String("type"),
		Properties: bag,
		Meta: domain.ObjectMeta{
			PublicID:         publicID,
			OriginalActorID:  origin.ID,
			OriginalObjectID: originalID,
			ReplyToObjectID:  props.String("inReplyTo"),
			CreatedAt:        now,
		},
	}
	created, err := s.db.InsertObject(ctx, obj)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store object: %w", err)
	}
	if !created {
		// lost a race against another worker caching the same object
		existing, err := s.db.ReadObjectByOriginalId(ctx, originalID)
		return existing, false, err
	}

	if host, err := extractDomain(originalID); err == nil {
		if _, err := s.db.InsertPeer(ctx, host); err != nil {
			log.Warn().Str("component", "objects").Str("domain", host).Err(err).Msg("Failed to record peer")
		}
	}
	return obj, true, nil
}

// CreateLocal stores an object authored on this server. Its original id is
// its own id.
func (s *ObjectStore) CreateLocal(ctx context.Context, author *domain.Actor, typ string, props domain.Properties) (*domain.Object, error) {
	now := s.now().UTC()
	publicID, err := s.db.NextID(ctx, "objects", now)
	if err != nil {
		return nil, err
	}
	id := s.opts.newObjectURL()
	obj := &domain.Object{
		ID:         id,
		Type:       typ,
		Properties: wireless(props),
		Meta: domain.ObjectMeta{
			PublicID:         publicID,
			OriginalActorID:  author.ID,
			OriginalObjectID: id,
			ReplyToObjectID:  props.String("inReplyTo"),
			Local:            true,
			CreatedAt:        now,
		},
	}
	if _, err := s.db.InsertObject(ctx, obj); err != nil {
		return nil, fmt.Errorf("failed to store object: %w", err)
	}
	return obj, nil
}

func (s *ObjectStore) Get(ctx context.Context, id string) (*domain.Object, error) {
	return s.db.ReadObjectById(ctx, id)
}

func (s *ObjectStore) GetByOriginalID(ctx context.Context, originalID string) (*domain.Object, error) {
	return s.db.ReadObjectByOriginalId(ctx, originalID)
}

func (s *ObjectStore) GetByPublicID(ctx context.Context, publicID string) (*domain.Object, error) {
	return s.db.ReadObjectByPublicId(ctx, publicID)
}

// Resolve returns the cached object with the given original id, fetching
// and caching it when unknown.
func (s *ObjectStore) Resolve(ctx context.Context, originalID string) (*domain.Object, error) {
	obj, err := s.db.ReadObjectByOriginalId(ctx, originalID)
	if err == nil {
		return obj, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if s.opts.IsLocal(originalID) {
		return nil, fmt.Errorf("%w: unknown local object %s", ErrUnresolvable, originalID)
	}

	doc, err := s.fetch.GetDocument(ctx, originalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	if doc.String("id") != originalID {
		return nil, fmt.Errorf("%w: document %s served for %s", ErrUnresolvable, doc.String("id"), originalID)
	}
	authorID := doc.String("attributedTo")
	if authorID == "" {
		return nil, fmt.Errorf("%w: object %s has no author", ErrUnresolvable, originalID)
	}
	author, err := s.actors.Resolve(ctx, authorID)
	if err != nil {
		return nil, err
	}
	obj, _, err = s.CacheOrUpdate(ctx, doc, author)
	return obj, err
}

// Update replaces the properties of obj, first appending a snapshot of the
// current ones to the revision history. It reports false when newProps are
// identical to the stored ones.
func (s *ObjectStore) Update(ctx context.Context, obj *domain.Object, newProps domain.Properties) (bool, error) {
	bag := wireless(newProps)
	current, err := obj.Properties.Canonical()
	if err != nil {
		return false, err
	}
	incoming, err := bag.Canonical()
	if err != nil {
		return false, err
	}
	if bytes.Equal(current, incoming) {
		return false, nil
	}

	revision := &domain.Revision{ObjectID: obj.ID, Properties: obj.Properties, CreatedAt: s.now().UTC()}
	latest, err := s.db.ReadLatestRevision(ctx, obj.ID)
	switch {
	case err == nil:
		snapshot, err := latest.Properties.Canonical()
		if err != nil {
			return false, err
		}
		if bytes.Equal(snapshot, current) {
			// the current state is already the newest revision
			revision = nil
		}
	case !errors.Is(err, db.ErrNotFound):
		return false, err
	}

	if err := s.db.ReplaceObjectProperties(ctx, obj.ID, bag, revision); err != nil {
		return false, fmt.Errorf("failed to update object: %w", err)
	}
	obj.Properties = bag
	return true, nil
}

// Delete removes a cached remote status on behalf of actorID. It is a
// no-op unless actorID is the original author.
func (s *ObjectStore) Delete(ctx context.Context, obj *domain.Object, actorID string) (bool, error) {
	logger := log.With().Str("component", "objects").Str("object", obj.OriginalID()).Str("actor", actorID).Logger()

	if obj.Meta.Local {
		logger.Info().Msg("Ignoring federated delete of a local object")
		return false, nil
	}
	if !noteTypes[obj.Type] {
		logger.Info().Str("type", obj.Type).Msg("Ignoring delete of non-status object")
		return false, nil
	}
	if obj.Meta.OriginalActorID != actorID {
		logger.Warn().Str("owner", obj.Meta.OriginalActorID).Msg("Ignoring delete from non-owner")
		return false, nil
	}

	if err := s.db.DeleteObject(ctx, obj.ID); err != nil {
		return false, fmt.Errorf("failed to delete object: %w", err)
	}
	return true, nil
}

// Revisions returns the edit history of obj, oldest first.
func (s *ObjectStore) Revisions(ctx context.Context, obj *domain.Object) ([]domain.Revision, error) {
	return s.db.ReadRevisions(ctx, obj.ID)
}
