package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
)

// canonicalRecipient maps the short forms of the public collection to its IRI.
func canonicalRecipient(id string) string {
	switch id {
	case "as:Public", "Public":
		return domain.PublicAudience
	}
	return id
}

// handleCreate caches a new remote object and distributes it to local
// recipients and followers of its author.
func (d *Dispatcher) handleCreate(ctx context.Context, act *Create) error {
	env := act.Envelope()
	logger := activityLogger(env)
	doc := env.Embedded()

	if doc.ID() == "" {
		return fmt.Errorf("%w: created object without id", ErrUnresolvable)
	}
	if author := doc.Props.String("attributedTo"); author != "" && author != env.Actor {
		logger.Warn().Str("author", author).Msg("Ignoring Create of an object attributed to another actor")
		return nil
	}

	_, err := d.objects.GetByOriginalID(ctx, doc.ID())
	if err == nil {
		logger.Debug().Str("object", doc.ID()).Msg("Object already cached")
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}

	origin, err := d.actors.Resolve(ctx, env.Actor)
	if err != nil {
		return err
	}
	obj, created, err := d.objects.CacheOrUpdate(ctx, doc.Props, origin)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	if parentID := doc.Props.String("inReplyTo"); parentID != "" {
		parent, err := d.objects.Resolve(ctx, parentID)
		switch {
		case err == nil:
			if _, err := d.db.InsertReply(ctx, &domain.Reply{
				ActorID:         origin.ID,
				ObjectID:        obj.ID,
				InReplyToObject: parent.ID,
				CreatedAt:       d.now().UTC(),
			}); err != nil {
				return fmt.Errorf("failed to store reply: %w", err)
			}
		case errors.Is(err, ErrUnresolvable), errors.Is(err, ErrActorGone):
			logger.Warn().Str("parent", parentID).Err(err).Msg("Reply parent is unresolvable")
		default:
			return err
		}
	}

	published := env.Published
	if published.IsZero() {
		if t, err := time.Parse(time.RFC3339, doc.Props.String("published")); err == nil {
			published = t
		} else {
			published = d.now()
		}
	}

	var recipients []string
	for _, id := range append(env.Recipients(), append(doc.Props.Strings("to"), doc.Props.Strings("cc")...)...) {
		recipients = append(recipients, canonicalRecipient(id))
	}
	recipients = uniqueStrings(recipients)

	delivered := make(map[string]bool)
	fanIn := false
	for _, target := range recipients {
		if _, err := d.db.InsertOutbox(ctx, &domain.TimelineEntry{
			ActorID:       origin.ID,
			ObjectID:      obj.ID,
			Target:        target,
			PublishedDate: published,
		}); err != nil {
			return fmt.Errorf("failed to record outbox entry: %w", err)
		}
		if target == domain.PublicAudience || (origin.Followers != "" && target == origin.Followers) {
			fanIn = true
			continue
		}

		local, err := d.localTarget(ctx, target)
		if err != nil {
			return err
		}
		if local == nil {
			continue
		}
		added, err := d.db.InsertInbox(ctx, local.ID, obj.ID)
		if err != nil {
			return fmt.Errorf("failed to add to inbox: %w", err)
		}
		delivered[local.ID] = true
		if added {
			if err := d.notify(ctx, domain.NotificationMention, local.ID, origin.ID, obj.ID); err != nil {
				return err
			}
		}
	}

	if fanIn {
		followers, err := d.db.ReadLocalFollowers(ctx, origin.ID)
		if err != nil {
			return fmt.Errorf("failed to read local followers: %w", err)
		}
		for _, id := range followers {
			if delivered[id] {
				continue
			}
			if _, err := d.db.InsertInbox(ctx, id, obj.ID); err != nil {
				return fmt.Errorf("failed to add to inbox: %w", err)
			}
			delivered[id] = true
		}
	}

	logger.Info().Str("object", doc.ID()).Int("local_recipients", len(delivered)).Msg("Cached object")
	return nil
}

// handleUpdate applies profile and status edits. Updating content owned
// by another actor is an error.
func (d *Dispatcher) handleUpdate(ctx context.Context, act *Update) error {
	env := act.Envelope()
	logger := activityLogger(env)
	doc := env.Embedded()
	typ := doc.Type()

	switch {
	case actorTypes[typ]:
		if doc.ID() != env.Actor {
			return fmt.Errorf("%w: %s updated profile %s", ErrAuthorizationMismatch, env.Actor, doc.ID())
		}
		if _, err := d.actors.Refresh(ctx, env.Actor); err != nil {
			return err
		}
		logger.Info().Msg("Refreshed actor profile")
		return nil
	case noteTypes[typ]:
	default:
		logger.Info().Str("object_type", typ).Msg("Ignoring Update of immutable type")
		return nil
	}

	obj, err := d.objects.GetByOriginalID(ctx, doc.ID())
	if errors.Is(err, db.ErrNotFound) {
		logger.Info().Str("object", doc.ID()).Msg("Ignoring Update of unknown object")
		return nil
	}
	if err != nil {
		return err
	}
	if obj.Meta.OriginalActorID != env.Actor {
		return fmt.Errorf("%w: %s updated %s owned by %s", ErrAuthorizationMismatch, env.Actor, doc.ID(), obj.Meta.OriginalActorID)
	}

	changed, err := d.objects.Update(ctx, obj, doc.Props)
	if err != nil {
		return err
	}
	if !changed {
		logger.Debug().Str("object", doc.ID()).Msg("Update without changes")
		return nil
	}

	rebloggers, err := d.db.ReadLocalRebloggers(ctx, obj.ID)
	if err != nil {
		return fmt.Errorf("failed to read rebloggers: %w", err)
	}
	for _, id := range rebloggers {
		if err := d.notify(ctx, domain.NotificationUpdate, id, env.Actor, obj.ID); err != nil {
			return err
		}
	}
	logger.Info().Str("object", doc.ID()).Msg("Updated object")
	return nil
}

// handleDelete removes a cached status. A Delete from anyone but the
// author does nothing.
func (d *Dispatcher) handleDelete(ctx context.Context, act *Delete) error {
	env := act.Envelope()
	logger := activityLogger(env)
	id := env.Embedded().ID()

	if id == env.Actor {
		if err := d.db.DeleteFollowsByActor(ctx, env.Actor); err != nil {
			return fmt.Errorf("failed to remove follows: %w", err)
		}
		logger.Info().Msg("Removed follow edges of deleted actor")
		return nil
	}

	obj, err := d.objects.GetByOriginalID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		logger.Debug().Str("object", id).Msg("Ignoring Delete of unknown object")
		return nil
	}
	if err != nil {
		return err
	}

	deleted, err := d.objects.Delete(ctx, obj, env.Actor)
	if err != nil {
		return err
	}
	if deleted {
		logger.Info().Str("object", id).Msg("Deleted object")
	}
	return nil
}

// handleAnnounce records a reblog of a public status.
func (d *Dispatcher) handleAnnounce(ctx context.Context, act *Announce) error {
	env := act.Envelope()
	logger := activityLogger(env)

	actor, err := d.actors.Resolve(ctx, env.Actor)
	if err != nil {
		return err
	}
	obj, err := d.objects.Resolve(ctx, env.Embedded().ID())
	if err != nil {
		return err
	}
	if !noteTypes[obj.Type] {
		logger.Info().Str("object_type", obj.Type).Msg("Ignoring Announce of non-status")
		return nil
	}
	if !obj.IsPublic() {
		logger.Info().Str("object", obj.OriginalID()).Msg("Ignoring Announce of non-public status")
		return nil
	}

	now := d.now().UTC()
	publicID, err := d.db.NextID(ctx, "actor_reblogs", now)
	if err != nil {
		return err
	}
	created, err := d.db.InsertReblog(ctx, &domain.Reblog{
		PublicID:  publicID,
		ActorID:   actor.ID,
		ObjectID:  obj.ID,
		URI:       env.ID,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to store reblog: %w", err)
	}
	if !created {
		logger.Debug().Str("object", obj.OriginalID()).Msg("Already reblogged")
		return nil
	}

	if err := d.notifyAuthor(ctx, domain.NotificationReblog, obj, actor.ID); err != nil {
		return err
	}

	// boosts show up on the home timeline of local followers
	followers, err := d.db.ReadLocalFollowers(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("failed to read local followers: %w", err)
	}
	for _, id := range followers {
		if _, err := d.db.InsertInbox(ctx, id, obj.ID); err != nil {
			return fmt.Errorf("failed to add to inbox: %w", err)
		}
	}
	return nil
}

// handleLike records a favourite.
func (d *Dispatcher) handleLike(ctx context.Context, act *Like) error {
	env := act.Envelope()

	actor, err := d.actors.Resolve(ctx, env.Actor)
	if err != nil {
		return err
	}
	obj, err := d.objects.Resolve(ctx, env.Embedded().ID())
	if err != nil {
		return err
	}

	created, err := d.db.InsertFavourite(ctx, &domain.Favourite{
		ActorID:   actor.ID,
		ObjectID:  obj.ID,
		URI:       env.ID,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store favourite: %w", err)
	}
	if !created {
		return nil
	}
	return d.notifyAuthor(ctx, domain.NotificationFavourite, obj, actor.ID)
}

// notifyAuthor notifies the author of obj when it is a local actor.
func (d *Dispatcher) notifyAuthor(ctx context.Context, typ domain.NotificationType, obj *domain.Object, from string) error {
	author, err := d.actors.Get(ctx, obj.Meta.OriginalActorID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !author.Local {
		return nil
	}
	return d.notify(ctx, typ, author.ID, from, obj.ID)
}
