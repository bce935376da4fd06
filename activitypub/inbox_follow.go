package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// handleFollow auto-accepts follow requests addressed to local actors.
func (d *Dispatcher) handleFollow(ctx context.Context, act *Follow) error {
	env := act.Envelope()
	logger := activityLogger(env)

	target, err := d.localTarget(ctx, env.Embedded().ID())
	if err != nil {
		return err
	}
	if target == nil {
		logger.Info().Str("target", env.Embedded().ID()).Msg("Follow target is not a local actor")
		return nil
	}

	follower, err := d.actors.Resolve(ctx, env.Actor)
	if err != nil {
		return err
	}

	created, err := d.follows.AddFollowing(ctx, follower, target, env.ID)
	if err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}
	if _, err := d.follows.Accept(ctx, follower.ID, target.ID); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}
	if err := d.outbox.SendAccept(ctx, target, follower, env.Raw); err != nil {
		return err
	}
	if created {
		if err := d.notify(ctx, domain.NotificationFollow, target.ID, follower.ID, ""); err != nil {
			return err
		}
	}

	logger.Info().Str("target", target.ID).Msg("Accepted follow")
	return nil
}

// handleAccept completes a follow sent by a local actor.
func (d *Dispatcher) handleAccept(ctx context.Context, act *Accept) error {
	env := act.Envelope()
	logger := activityLogger(env)
	follow := env.Embedded()

	if t := follow.Type(); t != "" && t != string(VerbFollow) {
		logger.Info().Str("object_type", t).Msg("Ignoring Accept of non-Follow")
		return nil
	}
	followerID := follow.Props.String("actor")
	if followerID == "" {
		return fmt.Errorf("%w: accepted follow %s is unknown", ErrUnresolvable, follow.ID())
	}
	if followee := follow.Props.String("object"); followee != "" && followee != env.Actor {
		logger.Warn().Str("followee", followee).Msg("Accept sent by an actor other than the followee")
		return nil
	}

	follower, err := d.localTarget(ctx, followerID)
	if err != nil {
		return err
	}
	if follower == nil {
		logger.Info().Str("follower", followerID).Msg("Accepted follow is not from a local actor")
		return nil
	}

	followee, err := d.actors.Resolve(ctx, env.Actor)
	if err != nil {
		return err
	}
	accepted, err := d.follows.Accept(ctx, follower.ID, followee.ID)
	if err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}
	if !accepted {
		logger.Info().Str("follower", follower.ID).Msg("No follow to accept")
		return nil
	}
	logger.Info().Str("follower", follower.ID).Msg("Follow accepted")
	return nil
}

// handleUndo reverts a Follow, Like or Announce of the sending actor.
func (d *Dispatcher) handleUndo(ctx context.Context, act *Undo) error {
	env := act.Envelope()
	logger := activityLogger(env)
	inner := env.Embedded()

	if owner := inner.Props.String("actor"); owner != "" && owner != env.Actor {
		logger.Warn().Str("owner", owner).Msg("Ignoring Undo of another actor's activity")
		return nil
	}
	target := inner.Props.String("object")

	switch Verb(inner.Type()) {
	case VerbFollow:
		removed, err := d.follows.Remove(ctx, env.Actor, target)
		if err != nil {
			return fmt.Errorf("failed to remove follow: %w", err)
		}
		logger.Info().Str("target", target).Bool("removed", removed).Msg("Undo follow")
	case VerbLike:
		obj, err := d.objects.GetByOriginalID(ctx, target)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := d.db.DeleteFavourite(ctx, env.Actor, obj.ID); err != nil {
			return fmt.Errorf("failed to remove favourite: %w", err)
		}
	case VerbAnnounce:
		obj, err := d.objects.GetByOriginalID(ctx, target)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := d.db.DeleteReblog(ctx, env.Actor, obj.ID); err != nil {
			return fmt.Errorf("failed to remove reblog: %w", err)
		}
	default:
		logger.Info().Str("object", inner.ID()).Str("object_type", inner.Type()).Msg("Ignoring Undo")
	}
	return nil
}

// handleMove re-homes the relationships of a moved account onto its local
// target. Both collections are walked with bounded pages.
func (d *Dispatcher) handleMove(ctx context.Context, act *Move) error {
	env := act.Envelope()
	logger := activityLogger(env)

	target, err := d.localTarget(ctx, env.Target)
	if err != nil {
		return err
	}
	if target == nil {
		logger.Info().Str("target", env.Target).Msg("Move target is not a local actor")
		return nil
	}
	if moved := env.Embedded().ID(); moved != env.Actor {
		logger.Warn().Str("moved", moved).Msg("Ignoring Move of another actor")
		return nil
	}

	source, err := d.actors.Resolve(ctx, env.Actor)
	if err != nil {
		return err
	}

	followers := 0
	if source.Followers != "" {
		followers, err = d.walker.Walk(ctx, source.Followers, func(ctx context.Context, batch []string) error {
			return d.moveFollowers(ctx, source, target, batch)
		})
		if err != nil && !errors.Is(err, ErrUnresolvable) {
			return err
		}
	}

	following := 0
	if source.Following != "" {
		following, err = d.walker.Walk(ctx, source.Following, func(ctx context.Context, batch []string) error {
			d.moveFollowing(ctx, target, batch)
			return nil
		})
		if err != nil && !errors.Is(err, ErrUnresolvable) {
			return err
		}
	}

	logger.Info().
		Str("target", target.ID).
		Int("followers", followers).
		Int("following", following).
		Msg("Moved account")
	return nil
}

// moveFollowers points the local followers in batch at target. Remote
// followers are moved by their own servers.
func (d *Dispatcher) moveFollowers(ctx context.Context, source, target *domain.Actor, batch []string) error {
	for _, id := range batch {
		follower, err := d.localTarget(ctx, id)
		if err != nil {
			return err
		}
		if follower == nil || follower.ID == target.ID {
			continue
		}
		if _, err := d.follows.AddFollowing(ctx, follower, target, ""); err != nil {
			return fmt.Errorf("failed to store follow: %w", err)
		}
		if _, err := d.follows.Accept(ctx, follower.ID, target.ID); err != nil {
			return fmt.Errorf("failed to accept follow: %w", err)
		}
		if _, err := d.follows.Remove(ctx, follower.ID, source.ID); err != nil {
			return fmt.Errorf("failed to remove follow: %w", err)
		}
	}
	return nil
}

// moveFollowing makes target follow the accounts in batch. Failures are
// logged per account.
func (d *Dispatcher) moveFollowing(ctx context.Context, target *domain.Actor, batch []string) {
	for _, id := range batch {
		if id == target.ID {
			continue
		}
		if _, err := d.outbox.Follow(ctx, target, id); err != nil {
			log.Warn().Str("component", "inbox").Str("actor", target.ID).Str("followee", id).Err(err).Msg("Failed to re-home follow")
		}
	}
}
