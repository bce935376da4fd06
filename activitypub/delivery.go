package activitypub

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/queue"
	"github.com/rs/zerolog/log"
)

const followerPageSize = 100

// Delivery sends signed activities to remote inboxes.
type Delivery struct {
	actors  *ActorStore
	follows *FollowGraph
	fetch   *Fetcher
	queue   queue.Queue
	opts    Options
	metrics *Metrics
}

func NewDelivery(actors *ActorStore, follows *FollowGraph, fetcher *Fetcher, q queue.Queue, opts Options, metrics *Metrics) *Delivery {
	return &Delivery{actors: actors, follows: follows, fetch: fetcher, queue: q, opts: opts, metrics: metrics}
}

// DeliverToActor signs activity with signingKey and posts it to the inbox
// of to. A non-2xx answer is returned as an error so the queue can redeliver.
func (d *Delivery) DeliverToActor(ctx context.Context, signingKey *rsa.PrivateKey, from, to *domain.Actor, activity []byte) error {
	inbox := to.InboxURL(false)
	status, err := d.fetch.Post(ctx, inbox, activity, from.KeyID(), signingKey)
	if err != nil {
		d.metrics.delivery("failed")
		log.Warn().Str("component", "delivery").Str("inbox", inbox).Int("status", status).Err(err).Msg("Delivery failed")
		return err
	}
	d.metrics.delivery("delivered")
	log.Debug().Str("component", "delivery").Str("inbox", inbox).Int("status", status).Msg("Delivered activity")
	return nil
}

// Enqueue submits a single delivery from a local actor to the inbox of
// the actor toActorID.
func (d *Delivery) Enqueue(ctx context.Context, from *domain.Actor, toActorID string, activity []byte) error {
	return d.enqueue(ctx, from, toActorID, "", activity)
}

func (d *Delivery) enqueue(ctx context.Context, from *domain.Actor, toActorID, inbox string, activity []byte) error {
	msg := &domain.QueueMessage{
		Type:        domain.MessageDeliver,
		ActorID:     from.ID,
		ToActorID:   toActorID,
		Recipient:   inbox,
		Activity:    activity,
		Credentials: from.KeyID(),
	}
	if err := d.queue.Submit(ctx, msg); err != nil {
		return fmt.Errorf("failed to queue delivery to %s: %w", toActorID, err)
	}
	d.metrics.Submitted(string(domain.MessageDeliver))
	return nil
}

// DeliverToFollowers queues deliveries of activity to the accepted remote
// followers of from and returns the number of queued deliveries. Followers
// behind the same shared inbox get a single delivery to that inbox.
func (d *Delivery) DeliverToFollowers(ctx context.Context, from *domain.Actor, activity []byte) (int, error) {
	queued := 0
	shared := make(map[string]bool)
	for offset := 0; ; offset += followerPageSize {
		page, err := d.follows.Followers(ctx, from.ID, followerPageSize, offset)
		if err != nil {
			return queued, fmt.Errorf("failed to read followers: %w", err)
		}
		for _, f := range page {
			if d.opts.IsLocal(f.ActorID) {
				continue
			}
			follower, err := d.actors.Get(ctx, f.ActorID)
			if err != nil {
				return queued, fmt.Errorf("failed to read follower %s: %w", f.ActorID, err)
			}
			inbox := follower.SharedInbox
			if inbox != "" {
				if shared[inbox] {
					continue
				}
				shared[inbox] = true
			}
			if err := d.enqueue(ctx, from, follower.ID, inbox, activity); err != nil {
				return queued, err
			}
			queued++
		}
		if len(page) < followerPageSize {
			break
		}
	}
	log.Info().Str("component", "delivery").Str("actor", from.ID).Int("deliveries", queued).Msg("Queued delivery to followers")
	return queued, nil
}
