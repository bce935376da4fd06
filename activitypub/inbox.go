package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultIdempotencyTTL = 24 * time.Hour

// AuthContext carries what the transport verified about an inbound request.
type AuthContext struct {
	// SignerID is the actor whose key signed the request.
	SignerID string
}

// Dispatcher applies the side effects of inbound activities.
type Dispatcher struct {
	db      *db.DB
	actors  *ActorStore
	objects *ObjectStore
	follows *FollowGraph
	outbox  *Outbox
	walker  *CollectionWalker
	fetch   *Fetcher
	opts    Options
	metrics *Metrics
	now     func() time.Time
}

func NewDispatcher(database *db.DB, actors *ActorStore, objects *ObjectStore, follows *FollowGraph, outbox *Outbox, walker *CollectionWalker, fetcher *Fetcher, opts Options, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		db:      database,
		actors:  actors,
		objects: objects,
		follows: follows,
		outbox:  outbox,
		walker:  walker,
		fetch:   fetcher,
		opts:    opts,
		metrics: metrics,
		now:     time.Now,
	}
}

// HandleActivity decodes and dispatches a raw inbound activity. Unknown and
// malformed activities are logged and dropped.
func (d *Dispatcher) HandleActivity(ctx context.Context, raw []byte, auth AuthContext) error {
	act, err := ParseActivity(raw)
	if errors.Is(err, ErrUnknownVerb) {
		d.metrics.inbound("unknown", "ignored")
		log.Info().Str("component", "inbox").Str("signer", auth.SignerID).Err(err).Msg("Ignoring activity")
		return nil
	}
	if err != nil {
		d.metrics.inbound("invalid", "ignored")
		log.Warn().Str("component", "inbox").Str("signer", auth.SignerID).Err(err).Msg("Dropping malformed activity")
		return nil
	}
	return d.Handle(ctx, act, auth)
}

// Handle dispatches a parsed activity. Store failures are returned so the
// queue redelivers; a redelivered activity that was already handled is a no-op.
func (d *Dispatcher) Handle(ctx context.Context, act Activity, auth AuthContext) error {
	env := act.Envelope()
	verb := string(env.Type)
	logger := activityLogger(env)

	if auth.SignerID != "" && auth.SignerID != env.Actor {
		d.metrics.inbound(verb, "rejected")
		logger.Warn().Str("signer", auth.SignerID).Msg("Activity actor does not match signer")
		return nil
	}

	if env.ID != "" {
		claimed, err := d.db.ClaimIdempotencyKey(ctx, env.ID, env.Object.ID(), d.now(), d.idempotencyTTL())
		if err != nil {
			return fmt.Errorf("failed to claim %s: %w", env.ID, err)
		}
		if !claimed {
			d.metrics.inbound(verb, "duplicate")
			logger.Debug().Msg("Duplicate delivery")
			return nil
		}
	}

	err := d.record(ctx, env)
	if err == nil {
		err = d.normalize(ctx, act)
	}
	if err == nil {
		err = d.dispatch(ctx, act)
	}

	switch {
	case err == nil:
		d.metrics.inbound(verb, "handled")
		logger.Debug().Msg("Handled activity")
		return nil
	case errors.Is(err, ErrUnresolvable), errors.Is(err, ErrActorGone):
		d.metrics.inbound(verb, "unresolvable")
		logger.Warn().Err(err).Msg("Dropping activity with unresolvable reference")
		return nil
	case errors.Is(err, ErrAuthorizationMismatch):
		d.metrics.inbound(verb, "rejected")
		logger.Warn().Err(err).Msg("Rejected activity")
		return err
	}

	d.metrics.inbound(verb, "failed")
	logger.Error().Err(err).Msg("Failed to handle activity")
	if env.ID != "" {
		if rerr := d.db.ReleaseIdempotencyKey(ctx, env.ID); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to release idempotency key")
		}
	}
	return err
}

func (d *Dispatcher) idempotencyTTL() time.Duration {
	if d.opts.IdempotencyTTL > 0 {
		return d.opts.IdempotencyTTL
	}
	return defaultIdempotencyTTL
}

// record appends the activity to the activity log.
func (d *Dispatcher) record(ctx context.Context, env *Envelope) error {
	if env.ID == "" {
		return nil
	}
	raw, err := json.Marshal(env.Raw)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	_, err = d.db.InsertActivity(ctx, &domain.ActivityRecord{
		ActivityURI:  env.ID,
		ActivityType: string(env.Type),
		ActorID:      env.Actor,
		ObjectID:     env.Object.ID(),
		RawJSON:      string(raw),
		CreatedAt:    d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// normalize replaces a bare object id with the referenced document. Known
// objects, actors and activities come from the store. Verbs that act on
// content fetch unknown objects; the others get a document holding only the id.
func (d *Dispatcher) normalize(ctx context.Context, act Activity) error {
	env := act.Envelope()
	ref, ok := env.Object.(IDRef)
	if !ok {
		return nil
	}
	id := ref.ID()

	doc, err := d.lookup(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		switch act.(type) {
		case *Create, *Update:
			doc, err = d.fetchDocument(ctx, id)
		case *Announce, *Like:
			var obj *domain.Object
			obj, err = d.objects.Resolve(ctx, id)
			if err == nil {
				doc = obj.Wire()
			}
		default:
			doc = domain.Properties{"id": id}
		}
		if err != nil {
			return err
		}
	}
	env.Object = Embedded{Props: doc}
	return nil
}

// lookup returns the stored document with the given id, or nil.
func (d *Dispatcher) lookup(ctx context.Context, id string) (domain.Properties, error) {
	obj, err := d.objects.GetByOriginalID(ctx, id)
	if err == nil {
		return obj.Wire(), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	actor, err := d.actors.Get(ctx, id)
	if err == nil {
		return ActorDocument(actor), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	record, err := d.db.ReadActivityByURI(ctx, id)
	if err == nil {
		var doc domain.Properties
		if err := json.Unmarshal([]byte(record.RawJSON), &doc); err != nil {
			return nil, fmt.Errorf("%w: stored activity %s: %v", ErrUnresolvable, id, err)
		}
		return doc, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) fetchDocument(ctx context.Context, id string) (domain.Properties, error) {
	if d.opts.IsLocal(id) {
		return nil, fmt.Errorf("%w: unknown local object %s", ErrUnresolvable, id)
	}
	doc, err := d.fetch.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	if doc.String("id") != id {
		return nil, fmt.Errorf("%w: document %s served for %s", ErrUnresolvable, doc.String("id"), id)
	}
	return doc, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, act Activity) error {
	switch a := act.(type) {
	case *Follow:
		return d.handleFollow(ctx, a)
	case *Accept:
		return d.handleAccept(ctx, a)
	case *Undo:
		return d.handleUndo(ctx, a)
	case *Create:
		return d.handleCreate(ctx, a)
	case *Update:
		return d.handleUpdate(ctx, a)
	case *Delete:
		return d.handleDelete(ctx, a)
	case *Announce:
		return d.handleAnnounce(ctx, a)
	case *Like:
		return d.handleLike(ctx, a)
	case *Move:
		return d.handleMove(ctx, a)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownVerb, act)
	}
}

// localTarget returns the local actor with canonical URL id, or nil when
// id is not a known local actor.
func (d *Dispatcher) localTarget(ctx context.Context, id string) (*domain.Actor, error) {
	username, ok := d.opts.LocalUsername(id)
	if !ok {
		return nil, nil
	}
	actor, err := d.actors.GetLocal(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return actor, err
}

func (d *Dispatcher) notify(ctx context.Context, typ domain.NotificationType, to, from, objectID string) error {
	err := d.db.InsertNotification(ctx, &domain.Notification{
		Type:        typ,
		ActorID:     to,
		FromActorID: from,
		ObjectID:    objectID,
		CreatedAt:   d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store %s notification: %w", typ, err)
	}
	return nil
}

func activityLogger(env *Envelope) zerolog.Logger {
	return log.With().
		Str("component", "inbox").
		Str("type", string(env.Type)).
		Str("activity", env.ID).
		Str("actor", env.Actor).
		Logger()
}
