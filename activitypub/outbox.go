package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/rs/zerolog/log"
)

// Outbox builds activities authored by local actors, records them in the
// activity log and hands them to the delivery engine.
type Outbox struct {
	db       *db.DB
	actors   *ActorStore
	objects  *ObjectStore
	follows  *FollowGraph
	delivery *Delivery
	opts     Options
}

func NewOutbox(database *db.DB, actors *ActorStore, objects *ObjectStore, follows *FollowGraph, delivery *Delivery, opts Options) *Outbox {
	return &Outbox{db: database, actors: actors, objects: objects, follows: follows, delivery: delivery, opts: opts}
}

func (o *Outbox) newActivity(verb Verb, actor *domain.Actor, object any) domain.Properties {
	return domain.Properties{
		"@context": ActivityStreamsContext,
		"id":       o.opts.newActivityURL(),
		"type":     string(verb),
		"actor":    actor.ID,
		"object":   object,
	}
}

// record appends a local activity to the log and returns its encoding.
func (o *Outbox) record(ctx context.Context, actor *domain.Actor, activity domain.Properties, objectID string) ([]byte, error) {
	raw, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}
	_, err = o.db.InsertActivity(ctx, &domain.ActivityRecord{
		ActivityURI:  activity.String("id"),
		ActivityType: activity.String("type"),
		ActorID:      actor.ID,
		ObjectID:     objectID,
		RawJSON:      string(raw),
		Local:        true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}
	return raw, nil
}

// SendAccept answers a Follow of follower to local.
func (o *Outbox) SendAccept(ctx context.Context, local, follower *domain.Actor, follow domain.Properties) error {
	embedded := domain.Properties{
		"id":     follow.String("id"),
		"type":   string(VerbFollow),
		"actor":  follower.ID,
		"object": local.ID,
	}
	accept := o.newActivity(VerbAccept, local, embedded)
	raw, err := o.record(ctx, local, accept, follow.String("id"))
	if err != nil {
		return err
	}
	return o.delivery.Enqueue(ctx, local, follower.ID, raw)
}

// Follow makes local follow the actor with id target. The edge stays
// pending until the target accepts.
func (o *Outbox) Follow(ctx context.Context, local *domain.Actor, target string) (*domain.Follow, error) {
	remote, err := o.actors.Resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", target, err)
	}

	follow := o.newActivity(VerbFollow, local, remote.ID)
	if _, err := o.follows.AddFollowing(ctx, local, remote, follow.String("id")); err != nil {
		return nil, fmt.Errorf("failed to store follow: %w", err)
	}
	edge, err := o.db.ReadFollow(ctx, local.ID, remote.ID)
	if err != nil {
		return nil, err
	}
	if edge.URI != "" && edge.URI != follow.String("id") {
		// already following, re-send the original activity id
		follow["id"] = edge.URI
	}
	if remote.Local {
		if _, err := o.follows.Accept(ctx, local.ID, remote.ID); err != nil {
			return nil, fmt.Errorf("failed to accept follow: %w", err)
		}
		edge.State = domain.FollowAccepted
		return edge, nil
	}

	raw, err := o.record(ctx, local, follow, remote.ID)
	if err != nil {
		return nil, err
	}
	if err := o.delivery.Enqueue(ctx, local, remote.ID, raw); err != nil {
		return nil, err
	}
	log.Info().Str("component", "outbox").Str("actor", local.ID).Str("target", remote.ID).Msg("Sent follow")
	return edge, nil
}

// Unfollow removes the edge from local to target and sends an
// Undo of the original Follow.
func (o *Outbox) Unfollow(ctx context.Context, local *domain.Actor, target string) error {
	edge, err := o.db.ReadFollow(ctx, local.ID, target)
	if err != nil {
		return fmt.Errorf("not following %s: %w", target, err)
	}
	if _, err := o.follows.Remove(ctx, local.ID, target); err != nil {
		return fmt.Errorf("failed to remove follow: %w", err)
	}
	if o.opts.IsLocal(target) {
		return nil
	}

	followID := edge.URI
	if followID == "" {
		followID = o.opts.newActivityURL()
	}
	undo := o.newActivity(VerbUndo, local, domain.Properties{
		"id":     followID,
		"type":   string(VerbFollow),
		"actor":  local.ID,
		"object": target,
	})
	raw, err := o.record(ctx, local, undo, followID)
	if err != nil {
		return err
	}
	return o.delivery.Enqueue(ctx, local, target, raw)
}

// PublishNote creates a public Note by local and fans it out to followers.
func (o *Outbox) PublishNote(ctx context.Context, local *domain.Actor, content, inReplyTo string) (*domain.Object, error) {
	now := time.Now().UTC()
	to := []any{domain.PublicAudience}
	cc := []any{local.Followers}
	props := domain.Properties{
		"attributedTo": local.ID,
		"content":      util.NormalizeInput(content),
		"published":    now.Format(time.RFC3339),
		"to":           to,
		"cc":           cc,
	}
	if inReplyTo != "" {
		props["inReplyTo"] = inReplyTo
	}

	note, err := o.objects.CreateLocal(ctx, local, "Note", props)
	if err != nil {
		return nil, err
	}

	create := o.newActivity(VerbCreate, local, note.Wire())
	create["published"] = now.Format(time.RFC3339)
	create["to"] = to
	create["cc"] = cc

	for _, target := range []string{domain.PublicAudience, local.Followers} {
		if _, err := o.db.InsertOutbox(ctx, &domain.TimelineEntry{
			ActorID:       local.ID,
			ObjectID:      note.ID,
			Target:        target,
			PublishedDate: now,
		}); err != nil {
			return nil, fmt.Errorf("failed to record outbox entry: %w", err)
		}
	}

	raw, err := o.record(ctx, local, create, note.ID)
	if err != nil {
		return nil, err
	}
	if _, err := o.delivery.DeliverToFollowers(ctx, local, raw); err != nil {
		return note, err
	}
	return note, nil
}
